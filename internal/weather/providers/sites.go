package providers

import "golang.org/x/net/html/atom"

// cityPages expands a table keyed by Russian city name with Latin aliases.
func cityPages(pages map[string]string) map[string]string {
	aliases := map[string][]string{
		"москва":          {"moscow"},
		"санкт-петербург": {"saint petersburg", "saint-petersburg", "st petersburg"},
		"новосибирск":     {"novosibirsk"},
		"екатеринбург":    {"yekaterinburg", "ekaterinburg"},
		"казань":          {"kazan"},
	}

	out := make(map[string]string, len(pages)*3)
	for city, u := range pages {
		out[city] = u
		for _, alias := range aliases[city] {
			out[alias] = u
		}
	}
	return out
}

func GismeteoSite() PageSite {
	return PageSite{
		Name: "gismeteo",
		URLs: cityPages(map[string]string{
			"москва":          "https://www.gismeteo.ru/weather-moscow-4368/",
			"санкт-петербург": "https://www.gismeteo.ru/weather-sankt-peterburg-4079/",
			"новосибирск":     "https://www.gismeteo.ru/weather-novosibirsk-4690/",
			"екатеринбург":    "https://www.gismeteo.ru/weather-yekaterinburg-4517/",
			"казань":          "https://www.gismeteo.ru/weather-kazan-4364/",
		}),
		Temperature: []Probe{MetaContent("og:title")},
		Description: []Probe{
			ClassContainsText(atom.Div, "description"),
			ClassContainsText(atom.Span, "weather"),
			ClassContainsText(atom.P, "desc"),
		},
		ScanText: true,
	}
}

func YandexSite() PageSite {
	return PageSite{
		Name: "yandex",
		URLs: cityPages(map[string]string{
			"москва":          "https://yandex.ru/pogoda/moscow",
			"санкт-петербург": "https://yandex.ru/pogoda/saint-petersburg",
			"новосибирск":     "https://yandex.ru/pogoda/novosibirsk",
			"екатеринбург":    "https://yandex.ru/pogoda/yekaterinburg",
			"казань":          "https://yandex.ru/pogoda/kazan",
		}),
		Temperature: []Probe{
			ElementText(atom.Div, "temp"),
			DegreeText(atom.Span, ""),
		},
		Description: []Probe{ElementText(atom.Div, "condition")},
	}
}

func SinoptikSite() PageSite {
	return PageSite{
		Name: "sinoptik",
		URLs: cityPages(map[string]string{
			"москва":          "https://sinoptik.ua/погода-москва",
			"санкт-петербург": "https://sinoptik.ua/погода-санкт-петербург",
			"новосибирск":     "https://sinoptik.ua/погода-новосибирск",
			"екатеринбург":    "https://sinoptik.ua/погода-екатеринбург",
			"казань":          "https://sinoptik.ua/погода-казань",
		}),
		Temperature: []Probe{
			ElementText(atom.P, "today-temp"),
			DegreeText(atom.Td, "p1"),
		},
		Description: []Probe{ElementText(atom.Div, "description")},
	}
}

func MailRuSite() PageSite {
	return PageSite{
		Name: "mailru",
		URLs: cityPages(map[string]string{
			"москва":          "https://pogoda.mail.ru/prognoz/moskva/",
			"санкт-петербург": "https://pogoda.mail.ru/prognoz/sankt-peterburg/",
			"новосибирск":     "https://pogoda.mail.ru/prognoz/novosibirsk/",
			"екатеринбург":    "https://pogoda.mail.ru/prognoz/ekaterinburg/",
			"казань":          "https://pogoda.mail.ru/prognoz/kazan/",
		}),
		Temperature: []Probe{
			DegreeText(atom.H1, ""),
			ElementText(atom.Div, "temp"),
		},
	}
}
