package task

import "time"

// StationMap lists the stations on the line, north to south. Station ids in
// task parameters are 1-based indexes into this list.
var StationMap = []string{
	"Nangang",
	"Taipei",
	"Banqiao",
	"Taoyuan",
	"Hsinchu",
	"Miaoli",
	"Taichung",
	"Changhua",
	"Yunlin",
	"Chiayi",
	"Tainan",
	"Zuouing",
}

// TimeTable lists the selectable departure slots. Time hints in task
// parameters are 1-based indexes into this list.
var TimeTable = []string{
	"1201A", "1230A", "600A", "630A", "700A", "730A", "800A", "830A",
	"900A", "930A", "1000A", "1030A", "1100A", "1130A", "1200N", "1230P",
	"100P", "130P", "200P", "230P", "300P", "330P", "400P", "430P",
	"500P", "530P", "600P", "630P", "700P", "730P", "800P", "830P",
	"900P", "930P", "1000P", "1030P", "1100P", "1130P",
}

// DateLayout is the travel date wire format.
const DateLayout = "2006/01/02"

// Ticket sales open this many days before the travel date, at midnight
// Taiwan time. Holiday and promotion sales sometimes open early, so the
// scheduler starts trying a few days before the official opening.
const (
	saleOpenDays      = 28
	saleEarlyOpenDays = 4
)

// taiwanTZ is the operative time zone for expiry and sale-window checks.
// Fixed offset, Taiwan has no DST.
var taiwanTZ = time.FixedZone("Asia/Taipei", 8*60*60)

// TaiwanNow returns the current time in Taiwan.
func TaiwanNow() time.Time {
	return time.Now().In(taiwanTZ)
}

// TodayInTaiwan returns midnight of the current Taiwan date.
func TodayInTaiwan() time.Time {
	now := TaiwanNow()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, taiwanTZ)
}

// ParseDate parses a YYYY/MM/DD travel date in the Taiwan time zone.
func ParseDate(date string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, date, taiwanTZ)
}

// SaleOpen reports whether ticket sales are open for the given travel date.
// Malformed dates report closed.
func SaleOpen(date string) bool {
	travel, err := ParseDate(date)
	if err != nil {
		return false
	}
	openDate := travel.AddDate(0, 0, -saleOpenDays)
	flexibleOpen := openDate.AddDate(0, 0, -saleEarlyOpenDays)
	return !TodayInTaiwan().Before(flexibleOpen)
}
