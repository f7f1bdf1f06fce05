package catalog

// SampleCatalog is the fixed list served when the upstream is unavailable
// and fallback is enabled. Callers get a fresh copy.
func SampleCatalog() []Item {
	return []Item{
		{Name: "Hazy Wonder", Producer: "Lagunitas", Category: "Hazy IPA", Strength: 6.0, Bitterness: 55, ColorIndex: 6},
		{Name: "805", Producer: "Firestone Walker", Category: "Blonde Ale", Strength: 4.7, Bitterness: 20, ColorIndex: 4},
		{Name: "Sculpin", Producer: "Ballast Point", Category: "IPA", Strength: 7.0, Bitterness: 70, ColorIndex: 8},
	}
}
