// Package listing defines the internship dataset model and the
// generation-to-generation diff used to detect changes.
package listing

// Role is one listing entry from the upstream dataset.
//
// JSON tags match the upstream listings file; unknown upstream fields are
// ignored on decode so schema additions don't break polling.
type Role struct {
	Title       string   `json:"title"`
	CompanyName string   `json:"company_name"`
	URL         string   `json:"url"`
	Locations   []string `json:"locations"`
	Season      string   `json:"season"`
	Sponsorship string   `json:"sponsorship"`
	Active      bool     `json:"active"`
	IsVisible   bool     `json:"is_visible"`
}

// Key identifies a role within one snapshot generation.
//
// (company, title) pairs are not guaranteed unique across all time: if a
// company reposts a title after a prior instance was deactivated, tracking
// state from the old instance can collide with the new one. That is an
// accepted approximation inherited from the upstream dataset.
func (r Role) Key() string {
	return r.CompanyName + "_" + r.Title
}

type diffKey struct {
	company string
	title   string
}

// Diff classifies every role in cur against prev.
//
// A role absent from prev that is active and visible is returned as added.
// A role present in both generations that flipped active=true -> active=false
// is returned as deactivated. Everything else (including roles that vanished
// from cur entirely) is ignored. Output order follows cur.
func Diff(prev, cur []Role) (added, deactivated []Role) {
	old := make(map[diffKey]Role, len(prev))
	for _, r := range prev {
		old[diffKey{company: r.CompanyName, title: r.Title}] = r
	}

	for _, r := range cur {
		prior, ok := old[diffKey{company: r.CompanyName, title: r.Title}]
		if ok {
			if prior.Active && !r.Active {
				deactivated = append(deactivated, r)
			}
			continue
		}
		if r.IsVisible && r.Active {
			added = append(added, r)
		}
	}
	return added, deactivated
}
