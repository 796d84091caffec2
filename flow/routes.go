package flow

import (
	"fmt"
	"strings"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// Screen is the console view a route resolves to.
type Screen struct {
	Route       string                  `json:"route"`
	Name        string                  `json:"name"`
	Stage       Stage                   `json:"stage"`
	Cohort      *interfaces.Cohort      `json:"cohort,omitempty"`
	Participant *interfaces.Participant `json:"participant,omitempty"`
}

type route struct {
	name   string
	cohort *interfaces.Cohort
}

var (
	trusteeCohort   = interfaces.TrusteeCohort
	encrypterCohort = interfaces.EncrypterCohort

	staticRoutes = map[string]route{
		"/setup-keys":       {name: "setup-keys"},
		"/keys":             {name: "keys", cohort: &trusteeCohort},
		"/key/save":         {name: "key-save", cohort: &trusteeCohort},
		"/key/remove":       {name: "key-remove", cohort: &trusteeCohort},
		"/setup-encrypters": {name: "setup-encrypters"},
		"/encrypters":       {name: "encrypters", cohort: &encrypterCohort},
		"/encrypter/save":   {name: "encrypter-save", cohort: &encrypterCohort},
		"/encrypter/remove": {name: "encrypter-remove", cohort: &encrypterCohort},
		"/ready":            {name: "ready"},
	}

	participantRoutes = map[string]route{
		"/keys/":       {name: "key", cohort: &trusteeCohort},
		"/encrypters/": {name: "encrypter", cohort: &encrypterCohort},
	}
)

// Resolve maps a console route to its screen. Unknown routes and participant
// routes for ids outside the roster fail with interfaces.ErrNotFound. Resolve
// never mutates the ceremony.
func (c *Controller) Resolve(path string) (Screen, error) {
	path = "/" + strings.Trim(path, "/")

	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := staticRoutes[path]; ok {
		return Screen{Route: path, Name: r.name, Stage: c.stage, Cohort: r.cohort}, nil
	}

	for prefix, r := range participantRoutes {
		id, ok := strings.CutPrefix(path, prefix)
		if !ok || id == "" || strings.Contains(id, "/") {
			continue
		}
		participant, err := c.session.Registry(*r.cohort).Get(interfaces.ParticipantID(id))
		if err != nil {
			return Screen{}, fmt.Errorf("%w: %w", interfaces.ErrNotFound, err)
		}
		return Screen{Route: path, Name: r.name, Stage: c.stage, Cohort: r.cohort, Participant: &participant}, nil
	}

	return Screen{}, fmt.Errorf("%w: %s", interfaces.ErrNotFound, path)
}
