package listing

import (
	"fmt"
	"strings"
)

// Compare reports field-level differences between two generations of the
// same role as human-readable change descriptions. It is a diagnostic
// primitive; Diff does not depend on it.
func Compare(old, cur Role) []string {
	var changes []string

	str := func(name, o, n string) {
		if o != n {
			changes = append(changes, fmt.Sprintf("%s changed from %q to %q", name, o, n))
		}
	}
	str("title", old.Title, cur.Title)
	str("company_name", old.CompanyName, cur.CompanyName)
	str("url", old.URL, cur.URL)
	str("season", old.Season, cur.Season)
	str("sponsorship", old.Sponsorship, cur.Sponsorship)

	if o, n := strings.Join(old.Locations, ", "), strings.Join(cur.Locations, ", "); o != n {
		changes = append(changes, fmt.Sprintf("locations changed from %q to %q", o, n))
	}
	if old.Active != cur.Active {
		changes = append(changes, fmt.Sprintf("active changed from %v to %v", old.Active, cur.Active))
	}
	if old.IsVisible != cur.IsVisible {
		changes = append(changes, fmt.Sprintf("is_visible changed from %v to %v", old.IsVisible, cur.IsVisible))
	}
	return changes
}
