// Package prompts generates, stores and serves the daily writing prompt shown
// above the diary editor.
package prompts

import (
	"fmt"
	"time"

	"github.com/familydiary/diary/internal/entrykey"
)

// JST is the zone prompt dates are computed in.
var JST = time.FixedZone("JST", 9*60*60)

// Seasons.
const (
	SeasonSpring = "spring"
	SeasonSummer = "summer"
	SeasonAutumn = "autumn"
	SeasonWinter = "winter"
)

var specialDays = map[string]string{
	"1-1":   "New Year",
	"2-14":  "Valentine's Day",
	"3-8":   "International Women's Day",
	"4-1":   "April Fools' Day",
	"5-5":   "Children's Day",
	"7-7":   "Tanabata",
	"8-15":  "O-Bon Festival",
	"9-23":  "Autumn Equinox",
	"10-31": "Halloween",
	"11-3":  "Culture Day",
	"12-25": "Christmas",
}

// Context is the situation a prompt is generated for.
type Context struct {
	Date         string
	Season       string
	SpecialEvent string
}

// ContextFor describes the JST calendar day containing now.
func ContextFor(now time.Time) Context {
	local := now.In(JST)
	return Context{
		Date:         local.Format(entrykey.DateLayout),
		Season:       seasonOf(local.Month()),
		SpecialEvent: specialDays[fmt.Sprintf("%d-%d", local.Month(), local.Day())],
	}
}

// Category labels the prompt with the special event, else the season.
func (c Context) Category() string {
	if c.SpecialEvent != "" {
		return c.SpecialEvent
	}
	if c.Season != "" {
		return c.Season
	}
	return "daily"
}

func seasonOf(month time.Month) string {
	switch month {
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	case time.September, time.October, time.November:
		return SeasonAutumn
	default:
		return SeasonWinter
	}
}
