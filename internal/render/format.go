// Package render maps roles and their transitions to notification text.
//
// All output is Telegram HTML (send with ParseMode "HTML").
package render

import (
	"strings"
	"time"

	"rolewatch/internal/listing"
	"rolewatch/pkg/tgui"
)

const locationPlaceholder = "Not specified"

// dateStamp follows the upstream bot's "Posted on: September, 02" style.
const dateStamp = "January, 02"

func locations(r listing.Role) string {
	if len(r.Locations) == 0 {
		return locationPlaceholder
	}
	return strings.Join(r.Locations, ", ")
}

// NewRole renders the announcement for a freshly posted role.
func NewRole(r listing.Role, now time.Time) string {
	var b strings.Builder
	b.WriteString(tgui.B(r.CompanyName + " just posted a new internship!").String())
	b.WriteString("\n\n")
	b.WriteString("Role: " + tgui.Link(r.Title, r.URL).String() + "\n")
	b.WriteString("Location: " + tgui.Esc(locations(r)).String() + "\n")
	b.WriteString("Season: " + tgui.Esc(r.Season).String() + "\n")
	b.WriteString("Sponsorship: " + tgui.Code(r.Sponsorship).String() + "\n")
	b.WriteString("Posted on: " + now.Format(dateStamp))
	return b.String()
}

// Deactivated renders the fresh closure notice broadcast when a role goes
// inactive. The original link is struck out rather than omitted so readers
// see the position existed and is now closed.
func Deactivated(r listing.Role, now time.Time) string {
	var b strings.Builder
	b.WriteString(tgui.B(r.CompanyName + " internship is no longer active").String())
	b.WriteString("\n\n")
	b.WriteString("Role: " + tgui.S(r.Title).String() + " (link disabled - position closed)\n")
	b.WriteString("Status: " + tgui.Code("Inactive").String() + "\n")
	b.WriteString("Deactivated on: " + now.Format(dateStamp))
	return b.String()
}

// ClosedUpdate rewrites a previously sent NewRole message in place once the
// role is deactivated. Same meaning as Deactivated, but keeps the posting
// details so the edited message still reads as a complete record.
func ClosedUpdate(r listing.Role, now time.Time) string {
	var b strings.Builder
	b.WriteString(tgui.B("❌ " + r.CompanyName + " internship is now CLOSED").String())
	b.WriteString("\n\n")
	b.WriteString("Role: " + tgui.S(r.Title).String() + " (link disabled - position closed)\n")
	b.WriteString("Location: " + tgui.Esc(locations(r)).String() + "\n")
	b.WriteString("Season: " + tgui.Esc(r.Season).String() + "\n")
	b.WriteString("Status: " + tgui.Code("🔴 CLOSED").String() + "\n")
	b.WriteString("Closed on: " + now.Format(dateStamp))
	return b.String()
}
