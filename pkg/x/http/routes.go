package http

import "github.com/omalloc/crateproxy/contrib/log"

// PrintRoutes logs the set of routes a server registered at startup,
// so a misconfigured listener shows up immediately in the logs instead
// of as a silent 404 later.
func PrintRoutes(patterns ...string) {
	for _, p := range patterns {
		log.Infof("route registered: %s", p)
	}
}
