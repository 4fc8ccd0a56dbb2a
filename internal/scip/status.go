package scip

// Status codes with protocol-level meaning.
const (
	StatusOK        = "00"
	StatusRebooting = "01"
	StatusUnstable  = "0M"
	StatusScanData  = "99"
)

// ActivationStatuses are the accepted replies to BM.
var ActivationStatuses = map[string]string{
	"00": "Normal. The sensor is in measurement state and the laser was lighted.",
	"01": "The laser was not lighted due to unstable or abnormal condition.",
	"02": "The sensor is already in measurement state and the laser is already lighted.",
}

// LaserStates maps %ST state codes to descriptions.
var LaserStates = map[string]string{
	"000": "Standby state",
	"100": "From standby to unstable state",
	"001": "Booting state",
	"002": "Time adjustment state",
	"102": "From time adjustment to unstable state",
	"003": "Single scan state",
	"103": "From single scan to unstable state",
	"004": "Multi scan state",
	"104": "From multi scan to unstable state",
	"005": "Sleep state",
	"006": "Waking-up state (Recovering from sleep state)",
	"900": "Error detected state",
}

// TimeSyncStatuses are the accepted replies to TM0, TM1 and TM2.
var TimeSyncStatuses = map[string]string{
	"00": "Normal",
	"01": "Invalid parameter (control code).",
	"02": "TM0 request was received and the sensor already is in time synchronization state.",
	"03": "TM2 request was received and the sensor already left the time synchronization state.",
	"04": "TM1 request was received and the sensor is not in time synchronization state.",
}

// ReplyStatuses is the error table shared by every command.
var ReplyStatuses = map[string]string{
	"0L": "AbnormalState",
	"0M": "Unstable",
	"0E": "CommandNotDefined",
	"0F": "CommandNotSupported",
	"10": "Denied",
	"0G": "UserStringLong",
	"0H": "CommandShort",
	"0D": "CommandLong",
}

// DescribeStatus returns the shared description for code, or "Unknown".
func DescribeStatus(code string) string {
	if desc, ok := ReplyStatuses[code]; ok {
		return desc
	}
	return "Unknown"
}
