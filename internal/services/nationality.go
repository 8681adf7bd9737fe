package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultNationality is used when no configured default is supplied.
const DefaultNationality = "AE"

// countryNames lists, per ISO-3166 alpha-2 code, the normalized country
// names and demonyms it is known by. Names are lower case, diacritics
// stripped, words joined by single spaces.
var countryNames = map[string][]string{
	"AE": {"united arab emirates", "uae", "emirati"},
	"SA": {"saudi arabia", "ksa", "saudi"},
	"QA": {"qatar", "qatari"},
	"KW": {"kuwait", "kuwaiti"},
	"BH": {"bahrain", "bahraini"},
	"OM": {"oman", "omani"},
	"JO": {"jordan", "jordanian"},
	"LB": {"lebanon", "lebanese"},
	"EG": {"egypt", "egyptian"},
	"MA": {"morocco", "moroccan"},
	"TR": {"turkey", "turkiye", "turkish"},
	"IN": {"india", "indian"},
	"PK": {"pakistan", "pakistani"},
	"BD": {"bangladesh"},
	"LK": {"sri lanka"},
	"PH": {"philippines", "filipino"},
	"ID": {"indonesia"},
	"MY": {"malaysia"},
	"SG": {"singapore"},
	"TH": {"thailand"},
	"CN": {"china", "chinese"},
	"JP": {"japan", "japanese"},
	"KR": {"south korea", "korea"},
	"AU": {"australia", "australian"},
	"NZ": {"new zealand"},
	"GB": {"united kingdom", "uk", "great britain", "british"},
	"IE": {"ireland", "irish"},
	"FR": {"france", "french"},
	"DE": {"germany", "german"},
	"ES": {"spain", "espana", "spanish"},
	"PT": {"portugal"},
	"IT": {"italy", "italian"},
	"NL": {"netherlands", "dutch"},
	"BE": {"belgium"},
	"CH": {"switzerland", "swiss"},
	"AT": {"austria"},
	"SE": {"sweden"},
	"NO": {"norway"},
	"DK": {"denmark"},
	"FI": {"finland"},
	"PL": {"poland"},
	"GR": {"greece"},
	"RU": {"russia", "russian federation"},
	"UA": {"ukraine"},
	"US": {"united states", "united states of america", "usa", "american"},
	"CA": {"canada", "canadian"},
	"MX": {"mexico"},
	"BR": {"brazil"},
	"AR": {"argentina"},
	"ZA": {"south africa"},
	"NG": {"nigeria"},
	"KE": {"kenya"},
	"CI": {"cote d ivoire", "ivory coast"},
}

// nationalities is countryNames inverted: normalized name to code.
var nationalities = func() map[string]string {
	m := make(map[string]string)
	for code, names := range countryNames {
		for _, n := range names {
			m[n] = code
		}
	}
	return m
}()

// normalizeName lowers, strips diacritics and turns separators into single
// spaces: "Côte_d'Ivoire" becomes "cote d ivoire".
func normalizeName(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = strings.ToLower(s)
	}
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// NormalizeNationality maps a free-form nationality to an ISO-3166 alpha-2
// code. Valid two-letter codes pass through upper-cased; anything unmapped
// yields fallback (or DefaultNationality when fallback is empty).
func NormalizeNationality(in, fallback string) string {
	if fallback == "" {
		fallback = DefaultNationality
	}
	s := strings.TrimSpace(in)
	if code, ok := nationalities[normalizeName(s)]; ok {
		return code
	}
	if len(s) == 2 {
		if r, err := language.ParseRegion(s); err == nil && r.IsCountry() {
			return strings.ToUpper(s)
		}
	}
	return strings.ToUpper(fallback)
}
