package schedule

import "strings"

// countryZones maps lowercase country names/codes to a representative IANA
// timezone. Large countries get their most common business zone; anything
// unlisted falls back to UTC. City overrides take precedence when known.
var countryZones = map[string]string{
	"us": "America/New_York", "usa": "America/New_York", "united states": "America/New_York",
	"ca": "America/Toronto", "canada": "America/Toronto",
	"gb": "Europe/London", "uk": "Europe/London", "united kingdom": "Europe/London",
	"ie": "Europe/Dublin", "ireland": "Europe/Dublin",
	"de": "Europe/Berlin", "germany": "Europe/Berlin",
	"fr": "Europe/Paris", "france": "Europe/Paris",
	"es": "Europe/Madrid", "spain": "Europe/Madrid",
	"it": "Europe/Rome", "italy": "Europe/Rome",
	"nl": "Europe/Amsterdam", "netherlands": "Europe/Amsterdam",
	"pl": "Europe/Warsaw", "poland": "Europe/Warsaw",
	"pt": "Europe/Lisbon", "portugal": "Europe/Lisbon",
	"ch": "Europe/Zurich", "switzerland": "Europe/Zurich",
	"se": "Europe/Stockholm", "sweden": "Europe/Stockholm",
	"no": "Europe/Oslo", "norway": "Europe/Oslo",
	"dk": "Europe/Copenhagen", "denmark": "Europe/Copenhagen",
	"fi": "Europe/Helsinki", "finland": "Europe/Helsinki",
	"au": "Australia/Sydney", "australia": "Australia/Sydney",
	"nz": "Pacific/Auckland", "new zealand": "Pacific/Auckland",
	"jp": "Asia/Tokyo", "japan": "Asia/Tokyo",
	"cn": "Asia/Shanghai", "china": "Asia/Shanghai",
	"in": "Asia/Kolkata", "india": "Asia/Kolkata",
	"sg": "Asia/Singapore", "singapore": "Asia/Singapore",
	"hk": "Asia/Hong_Kong", "hong kong": "Asia/Hong_Kong",
	"ae": "Asia/Dubai", "uae": "Asia/Dubai", "united arab emirates": "Asia/Dubai",
	"il": "Asia/Jerusalem", "israel": "Asia/Jerusalem",
	"br": "America/Sao_Paulo", "brazil": "America/Sao_Paulo",
	"mx": "America/Mexico_City", "mexico": "America/Mexico_City",
	"ar": "America/Argentina/Buenos_Aires", "argentina": "America/Argentina/Buenos_Aires",
	"za": "Africa/Johannesburg", "south africa": "Africa/Johannesburg",
	"ua": "Europe/Kyiv", "ukraine": "Europe/Kyiv",
	"at": "Europe/Vienna", "austria": "Europe/Vienna",
	"be": "Europe/Brussels", "belgium": "Europe/Brussels",
	"cz": "Europe/Prague", "czech republic": "Europe/Prague", "czechia": "Europe/Prague",
	"gr": "Europe/Athens", "greece": "Europe/Athens",
	"tr": "Europe/Istanbul", "turkey": "Europe/Istanbul",
	"kr": "Asia/Seoul", "south korea": "Asia/Seoul",
}

var cityZones = map[string]string{
	"los angeles": "America/Los_Angeles", "san francisco": "America/Los_Angeles",
	"seattle": "America/Los_Angeles", "san diego": "America/Los_Angeles",
	"denver": "America/Denver", "phoenix": "America/Phoenix",
	"chicago": "America/Chicago", "houston": "America/Chicago",
	"dallas": "America/Chicago", "austin": "America/Chicago",
	"vancouver": "America/Vancouver", "calgary": "America/Edmonton",
	"perth": "Australia/Perth", "brisbane": "Australia/Brisbane",
	"melbourne": "Australia/Melbourne",
}

// DeriveTimezone picks an IANA timezone from a lead's city and country.
// City wins over country; unknown inputs yield UTC.
func DeriveTimezone(country, city string) string {
	if tz, ok := cityZones[strings.ToLower(strings.TrimSpace(city))]; ok {
		return tz
	}
	if tz, ok := countryZones[strings.ToLower(strings.TrimSpace(country))]; ok {
		return tz
	}
	return "UTC"
}
