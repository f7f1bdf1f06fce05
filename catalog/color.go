package catalog

import "math"

// srmHex maps SRM 1..40 to a display color.
var srmHex = [...]string{
	"#FFE699", "#FFD878", "#FFCA5A", "#FFBF42", "#FBB123", "#F8A600", "#F39C00", "#EA8F00",
	"#E58500", "#DE7C00", "#D77200", "#CF6900", "#CB6200", "#C35900", "#BB5100", "#B54C00",
	"#B04500", "#A63E00", "#A13700", "#9B3200", "#952D00", "#8E2900", "#882300", "#821E00",
	"#7B1A00", "#771900", "#701400", "#6A0E00", "#660D00", "#5E0B00", "#5A0A02", "#600903",
	"#520907", "#4C0505", "#470606", "#440607", "#3F0708", "#3B0607", "#3A070B", "#36080A",
}

// defaultSRM is used when an item carries no color index.
const defaultSRM = 5

// ColorHex returns the hex color for an SRM color index, rounding to the
// nearest whole value and clamping to 1..40.
func ColorHex(srm float64) string {
	if srm <= 0 || math.IsNaN(srm) {
		srm = defaultSRM
	}
	// Clamp before converting; int() of an out-of-range float is undefined.
	if srm > float64(len(srmHex)) {
		return srmHex[len(srmHex)-1]
	}
	i := int(math.Round(srm))
	if i < 1 {
		i = 1
	}
	return srmHex[i-1]
}
