package sdcard

import "log/slog"

// Link is the physical SPI connection between the host and the card. Implementations
// exist per platform: a microcontroller SPI peripheral plus a GPIO for chip select,
// or a simulated card for testing. All methods block until the transfer completes.
//
// The card is a full-duplex device: every clocked byte shifts one byte out and one
// byte in. When the caller only wants to read, it transmits 0xFF filler.
type Link interface {
	// Init brings the SPI bus up at the requested clock rate and returns the
	// rate actually achieved, which may be lower.
	Init(hz uint32) (actualHz uint32, err error)
	// Transfer clocks a single byte out and returns the byte clocked in.
	Transfer(tx byte) (byte, error)
	// TransferBulk clocks len bytes where len is the length of the non-nil
	// slice. A nil tx transmits 0xFF filler; a nil rx discards received bytes.
	TransferBulk(tx, rx []byte) error
	// CSLow asserts the chip select line (active low) so the card is addressed.
	CSLow()
	// CSHigh deasserts the chip select line.
	CSHigh()
	// Delay blocks the caller for at least ms milliseconds.
	Delay(ms uint32)
	// Millis returns a monotonic millisecond counter used for timeouts.
	Millis() uint32
}

// Config holds optional knobs and hints for a Card. The zero value is usable.
type Config struct {
	// FastHz is the data-phase SPI clock requested after initialization
	// completes. Zero selects 4 MHz. Values above 25 MHz are capped.
	FastHz uint32
	// CardDetect reports whether a card is physically present. Nil means
	// always present.
	CardDetect func() bool
	// WriteProtect reports whether the card's write protect tab is set.
	// Nil means never protected.
	WriteProtect func() bool
	// Logger receives protocol-level debug and error records. Nil disables logging.
	Logger *slog.Logger
}

func (cfg *Config) detect() bool {
	if cfg.CardDetect == nil {
		return true
	}
	return cfg.CardDetect()
}

func (cfg *Config) writeProtected() bool {
	if cfg.WriteProtect == nil {
		return false
	}
	return cfg.WriteProtect()
}

// Clock rates and timeouts of the SD SPI protocol. Initialization must happen
// at or below 400kHz; the data phase tops out at 25MHz in default-speed mode.
const (
	slowHz        = 400_000
	defaultFastHz = 4_000_000
	maxHz         = 25_000_000

	initTimeoutMS  = 1000
	readTimeoutMS  = 200
	writeTimeoutMS = 500
	eraseTimeoutMS = 30_000
)
