// Package markets interprets broker instrument metadata: option name and
// expiry parsing, the option-to-underlying epic mapping, and a small
// on-disk cache of resolved instrument details.
package markets

import "strings"

// marketToEpic maps the market ID reported on an option's instrument
// details to the epic of its underlying. IG reports the same underlying
// under several spellings, so most markets appear twice.
var marketToEpic = map[string]string{
	// US Tech
	"US Tech": "IX.D.NASDAQ.IFS.IP",
	"NASDAQ":  "IX.D.NASDAQ.IFS.IP",

	// US 500
	"US 500": "IX.D.SPTRD.IFS.IP",
	"US500":  "IX.D.SPTRD.IFS.IP",

	// Wall Street
	"Wall Street": "IX.D.DOW.IFS.IP",
	"DOW":         "IX.D.DOW.IFS.IP",

	// Germany 40
	"Germany 40": "IX.D.DAX.IFS.IP",
	"DE30":       "IX.D.DAX.IFS.IP",

	// Japan 225
	"Japan 225": "IX.D.NIKKEI.IFM.IP",
	"NIKKEI":    "IX.D.NIKKEI.IFM.IP",

	// FTSE 100
	"FTSE 100": "IX.D.FTSE.IFM.IP",
	"FT100":    "IX.D.FTSE.IFM.IP",

	// EU Stocks 50
	"EU Stocks 50": "IX.D.STXE.IFM.IP",
	"STXE":         "IX.D.STXE.IFM.IP",

	// France 40
	"France 40": "IX.D.CAC.IFS.IP",
	"CAC":       "IX.D.CAC.IFS.IP",

	// Australia 200
	"Australia 200": "IX.D.ASX.IFS.IP",
	"ASX":           "IX.D.ASX.IFS.IP",

	// Commodities
	"OIL":    "CC.D.CL.UMP.IP",
	"Gold":   "CS.D.CFPGOLD.CFP.IP",
	"Silver": "CS.D.CFDSILVER.CFM.IP",

	// Forex
	"EUR/USD": "CS.D.EURUSD.MINI.IP",
	"EURUSD":  "CS.D.EURUSD.MINI.IP",
	"GBP/USD": "CS.D.GBPUSD.MINI.IP",
	"GBPUSD":  "CS.D.GBPUSD.MINI.IP",
	"USD/JPY": "CS.D.USDJPY.MINI.IP",
	"USDJPY":  "CS.D.USDJPY.MINI.IP",
	"EUR/JPY": "CS.D.EURJPY.MINI.IP",
	"EURJPY":  "CS.D.EURJPY.MINI.IP",
	"AUD/USD": "CS.D.AUDUSD.MINI.IP",
	"AUDUSD":  "CS.D.AUDUSD.MINI.IP",
	"GBP/JPY": "CS.D.GBPJPY.MINI.IP",
	"GBPJPY":  "CS.D.GBPJPY.MINI.IP",
	"USD/CHF": "CS.D.USDCHF.MINI.IP",
	"USDCHF":  "CS.D.USDCHF.MINI.IP",
	"USD/CAD": "CS.D.USDCAD.MINI.IP",
	"USDCAD":  "CS.D.USDCAD.MINI.IP",
	"EUR/GBP": "CS.D.EURGBP.MINI.IP",
	"EURGBP":  "CS.D.EURGBP.MINI.IP",

	// Other indices
	"Netherlands 25": "IX.D.AEX.IFM.IP",
	"AEX":            "IX.D.AEX.IFM.IP",
	"Hong Kong HS50": "IX.D.HANGSENG.IFU.IP",
	"HANGSENG":       "IX.D.HANGSENG.IFU.IP",
	"Sweden 30":      "IX.D.OMX.IFM.IP",
	"OMX":            "IX.D.OMX.IFM.IP",
	"Spain 35":       "IX.D.IBEX.IFM.IP",
	"IBEX":           "IX.D.IBEX.IFM.IP",
}

// UnderlyingEpic resolves the underlying's epic for a market ID, trying the
// ID as given, with spaces stripped, and with a space inserted after the
// first two characters ("DE30" style IDs).
func UnderlyingEpic(marketID string) (string, bool) {
	if epic, ok := marketToEpic[marketID]; ok {
		return epic, true
	}
	if epic, ok := marketToEpic[strings.ReplaceAll(marketID, " ", "")]; ok {
		return epic, true
	}
	if len(marketID) > 2 {
		if epic, ok := marketToEpic[marketID[:2]+" "+marketID[2:]]; ok {
			return epic, true
		}
	}
	return "", false
}

// IsOptionEpic reports whether an epic belongs to an option instrument.
func IsOptionEpic(epic string) bool {
	return strings.HasPrefix(epic, "OP.") || strings.HasPrefix(epic, "DO.")
}
