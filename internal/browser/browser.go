// Package browser opens URLs in the user's default browser.
package browser

import (
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// Open launches the default browser at the given URL. Failure is logged but
// not fatal; the caller's output includes the URL for manual opening.
func Open(url string) bool {
	if err := open.Run(url); err != nil {
		log.Warnf("could not open browser automatically: %v", err)
		return false
	}
	return true
}
