package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/au"
	"github.com/rickar/cal/v2/ca"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/es"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/ie"
	"github.com/rickar/cal/v2/it"
	"github.com/rickar/cal/v2/jp"
	"github.com/rickar/cal/v2/nl"
	"github.com/rickar/cal/v2/nz"
	"github.com/rickar/cal/v2/us"
)

// HolidayCalendar decides whether scheduled batch jobs should run on a day.
// Country calendars come from rickar/cal; "NONE" means weekends only. Custom
// holidays are fixed yearly dates in MM-DD form, typically local festivals
// the country calendar does not know about.
type HolidayCalendar struct {
	country  string
	calendar *cal.BusinessCalendar
	custom   map[string]bool
}

var countryHolidays = map[string][]*cal.Holiday{
	"US": us.Holidays,
	"GB": gb.Holidays,
	"DE": de.Holidays,
	"FR": fr.Holidays,
	"JP": jp.Holidays,
	"AU": au.HolidaysNSW,
	"CA": ca.Holidays,
	"NZ": nz.Holidays,
	"IT": it.Holidays,
	"ES": es.Holidays,
	"NL": nl.Holidays,
	"IE": ie.Holidays,
}

func NewHolidayCalendar(country string, custom []string) (*HolidayCalendar, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = "NONE"
	}
	h := &HolidayCalendar{
		country:  country,
		calendar: cal.NewBusinessCalendar(),
		custom:   make(map[string]bool, len(custom)),
	}
	if holidays, ok := countryHolidays[country]; ok {
		h.calendar.Name = country
		h.calendar.AddHoliday(holidays...)
	} else if country != "NONE" {
		return nil, fmt.Errorf("unsupported holiday country %q", country)
	}
	for _, d := range custom {
		d = strings.TrimSpace(d)
		if _, err := time.Parse("01-02", d); err != nil {
			return nil, fmt.Errorf("custom holiday %q: expected MM-DD", d)
		}
		h.custom[d] = true
	}
	return h, nil
}

func (h *HolidayCalendar) IsWorkday(t time.Time) bool {
	if h.custom[t.Format("01-02")] {
		return false
	}
	if h.country == "NONE" {
		return !cal.IsWeekend(t)
	}
	return h.calendar.IsWorkday(t)
}

// SupportedCountries lists the accepted holiday_country codes.
func SupportedCountries() []string {
	codes := []string{"NONE"}
	for code := range countryHolidays {
		codes = append(codes, code)
	}
	return codes
}
