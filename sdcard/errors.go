package sdcard

// Error identifies a failure of the card protocol layer. Values are stable and
// comparable with errors.Is against the exported Err sentinels.
type Error uint8

const (
	_ Error = iota
	ErrNoCard
	ErrSpi
	ErrTimeout
	ErrCrc
	ErrVoltage
	ErrInit
	ErrCommand
	ErrWriteProtect
	ErrBusy
	ErrRead
	ErrWrite
	ErrErase
	ErrInvalidParam
	ErrNotSupported
)

func (e Error) Error() string {
	switch e {
	case ErrNoCard:
		return "sdcard: no card detected"
	case ErrSpi:
		return "sdcard: SPI communication error"
	case ErrTimeout:
		return "sdcard: operation timed out"
	case ErrCrc:
		return "sdcard: CRC check failed"
	case ErrVoltage:
		return "sdcard: voltage range not supported"
	case ErrInit:
		return "sdcard: card initialization failed"
	case ErrCommand:
		return "sdcard: command failed"
	case ErrWriteProtect:
		return "sdcard: card is write protected"
	case ErrBusy:
		return "sdcard: card is busy"
	case ErrRead:
		return "sdcard: read error"
	case ErrWrite:
		return "sdcard: write error"
	case ErrErase:
		return "sdcard: erase error"
	case ErrInvalidParam:
		return "sdcard: invalid parameter"
	case ErrNotSupported:
		return "sdcard: operation not supported"
	}
	return "sdcard: unknown error"
}
