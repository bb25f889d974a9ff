// Package sdcard implements the SD/MMC command protocol over a clocked serial
// full-duplex link (SPI mode). It handles initialization sequencing, command
// framing with CRC-7, capacity and addressing discovery, and single and
// multi-block reads, writes and erases of 512-byte sectors.
//
// The package talks to hardware exclusively through the Link interface so the
// same driver runs against a microcontroller SPI peripheral, a USB bridge or a
// simulated card.
package sdcard

import (
	"context"
	"encoding/binary"
	"log/slog"
)

// Type classifies the attached card after initialization.
type Type uint8

const (
	TypeNone Type = iota
	TypeMMC
	TypeSDv1
	TypeSDv2
	TypeSDHC
	TypeSDXC
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeMMC:
		return "MMC"
	case TypeSDv1:
		return "SD v1.x"
	case TypeSDv2:
		return "SD v2.0"
	case TypeSDHC:
		return "SDHC"
	case TypeSDXC:
		return "SDXC"
	}
	return "Unknown"
}

type state uint8

const (
	stateUninit state = iota
	stateIdle
	stateInitializing
	stateReady
	stateReading
	stateMultiReading
	stateWriting
	stateMultiWriting
	stateErasing
)

// SD commands used by this driver, SPI mode.
const (
	cmd0GoIdle        = 0  // software reset
	cmd1SendOpCond    = 1  // MMC initialization
	cmd8SendIfCond    = 8  // voltage check, v2+ only
	cmd9SendCSD       = 9  // card specific data register
	cmd10SendCID      = 10 // card identification register
	cmd12StopTransmit = 12
	cmd16SetBlockLen  = 16
	cmd17ReadSingle   = 17
	cmd18ReadMulti    = 18
	cmd24WriteSingle  = 24
	cmd25WriteMulti   = 25
	cmd32EraseStart   = 32
	cmd33EraseEnd     = 33
	cmd38Erase        = 38
	cmd55AppCmd       = 55
	cmd58ReadOCR      = 58
	acmd23PreErase    = 23
	acmd41SendOpCond  = 41
)

// R1 response bits.
const (
	r1Idle       = 0x01
	r1EraseReset = 0x02
	r1IllegalCmd = 0x04
	r1CrcError   = 0x08
)

// Data transfer tokens.
const (
	tokenSingle = 0xFE // single block read/write and CMD18 blocks
	tokenMultiW = 0xFC // CMD25 per-block token
	tokenStop   = 0xFD // CMD25 stop token
)

const ocrCCS = 1 << 30 // card capacity status bit of the OCR

// SectorSize is the only block length this driver operates with.
const SectorSize = 512

// Counters tallies card traffic since initialization.
type Counters struct {
	Reads  uint32
	Writes uint32
	Errors uint32
}

// Card is an SD/MMC card attached over SPI. Create one with New, then call
// Init before any I/O. Card is not safe for concurrent use.
type Card struct {
	link Link
	cfg  Config
	log  *slog.Logger

	state       state
	typ         Type
	initialized bool
	blockAddr   bool // true: command addresses are sector indices (SDHC/SDXC)

	speedHz  uint32
	capacity uint64
	sectors  uint32

	cid [16]byte
	csd [16]byte

	count Counters
}

// New returns a Card driving the given link. The card is uninitialized until
// Init is called.
func New(link Link, cfg Config) *Card {
	return &Card{link: link, cfg: cfg, log: cfg.Logger}
}

// crc7 computes the SD command CRC over polynomial x^7+x^3+1 and returns it
// shifted into the frame trailer position with the stop bit set.
func crc7(data []byte) byte {
	var crc byte
	for _, d := range data {
		for j := 0; j < 8; j++ {
			crc <<= 1
			if (d&0x80)^(crc&0x80) != 0 {
				crc ^= 0x09
			}
			d <<= 1
		}
	}
	return (crc << 1) | 1
}

// cmd transmits a 6-byte command frame and polls for the R1 response.
// Chip select is left asserted so response payloads can be read; callers
// must end the transaction with release.
func (c *Card) cmd(idx uint8, arg uint32) (byte, error) {
	var frame [6]byte
	frame[0] = 0x40 | idx
	binary.BigEndian.PutUint32(frame[1:5], arg)
	frame[5] = crc7(frame[:5])

	c.link.CSLow()
	if err := c.link.TransferBulk(frame[:], nil); err != nil {
		return 0xFF, err
	}
	// The R1 byte arrives within 8 clocks; its MSB is always clear.
	for i := 0; i < 8; i++ {
		r, err := c.link.Transfer(0xFF)
		if err != nil {
			return 0xFF, err
		}
		if r&0x80 == 0 {
			return r, nil
		}
	}
	return 0xFF, nil
}

// acmd transmits CMD55 followed by an application command.
func (c *Card) acmd(idx uint8, arg uint32) (byte, error) {
	r, err := c.cmd(cmd55AppCmd, 0)
	if err != nil {
		return 0xFF, err
	}
	c.release()
	if r > 1 {
		return r, nil
	}
	return c.cmd(idx, arg)
}

// release deasserts chip select and clocks one trailing filler byte so the
// card releases its data output line.
func (c *Card) release() {
	c.link.CSHigh()
	c.link.Transfer(0xFF)
}

// sendClocks clocks n filler bytes with chip select deasserted so the card
// sees clock edges without being addressed.
func (c *Card) sendClocks(n int) {
	c.link.CSHigh()
	for i := 0; i < n; i++ {
		c.link.Transfer(0xFF)
	}
}

// waitToken polls for a byte other than 0xFF, the start of a data packet or an
// error token. Returns 0xFF on timeout.
func (c *Card) waitToken(timeoutMS uint32) (byte, error) {
	start := c.link.Millis()
	for {
		tok, err := c.link.Transfer(0xFF)
		if err != nil {
			return 0xFF, err
		}
		if tok != 0xFF {
			return tok, nil
		}
		if c.link.Millis()-start >= timeoutMS {
			return 0xFF, nil
		}
	}
}

// waitReady polls until the card releases its busy signal (reads 0xFF).
func (c *Card) waitReady(timeoutMS uint32) bool {
	start := c.link.Millis()
	for {
		r, err := c.link.Transfer(0xFF)
		if err != nil {
			return false
		}
		if r == 0xFF {
			return true
		}
		if c.link.Millis()-start >= timeoutMS {
			return false
		}
	}
}

// Init runs the SD/MMC initialization sequence: reset into SPI mode, voltage
// check, operating-condition negotiation, addressing discovery and capacity
// decode, finally ramping the bus to the configured fast clock. On success the
// card is in the Ready state and sector I/O may begin.
func (c *Card) Init() error {
	c.state = stateUninit
	c.initialized = false
	c.typ = TypeNone
	c.blockAddr = false
	c.capacity = 0
	c.sectors = 0
	c.count = Counters{}

	if !c.cfg.detect() {
		c.debug("init:no card")
		return ErrNoCard
	}

	hz, err := c.link.Init(slowHz)
	if err != nil {
		return ErrSpi
	}
	c.speedHz = hz
	c.debug("init:slow clock", slog.Uint64("hz", uint64(hz)))

	// The card needs >=74 clocks with CS high before it accepts commands.
	c.link.Delay(2)
	c.sendClocks(10)

	// CMD0: software reset into SPI mode.
	r1, err := c.cmd(cmd0GoIdle, 0)
	c.release()
	if err != nil {
		return ErrSpi
	}
	if r1 != r1Idle {
		c.logerror("init:cmd0", slog.Uint64("r1", uint64(r1)))
		return ErrInit
	}
	c.state = stateIdle

	// CMD8: voltage check with echo pattern. Rejection with the illegal
	// command bit identifies a v1.x card.
	r1, err = c.cmd(cmd8SendIfCond, 0x000001AA)
	if err != nil {
		c.release()
		return ErrSpi
	}
	switch {
	case r1 == r1Idle:
		var r7 [4]byte
		if err := c.link.TransferBulk(nil, r7[:]); err != nil {
			c.release()
			return ErrSpi
		}
		c.release()
		if r7[2] != 0x01 || r7[3] != 0xAA {
			c.logerror("init:cmd8 voltage", slog.Uint64("echo", uint64(r7[3])))
			return ErrVoltage
		}
		c.typ = TypeSDv2
	case r1&r1IllegalCmd != 0:
		c.release()
		c.typ = TypeSDv1
	default:
		c.release()
		return ErrInit
	}

	// ACMD41 loop until the card leaves the idle state. Cards that reject
	// the application command are MMC and take CMD1 instead.
	c.state = stateInitializing
	var arg uint32
	if c.typ >= TypeSDv2 {
		arg = ocrCCS // host announces high capacity support
	}
	start := c.link.Millis()
	for {
		r1, err = c.acmd(acmd41SendOpCond, arg)
		c.release()
		if err != nil {
			return ErrSpi
		}
		if r1 == 0 {
			break
		}
		if r1&r1IllegalCmd != 0 {
			r1, err = c.cmd(cmd1SendOpCond, 0)
			c.release()
			if err != nil {
				return ErrSpi
			}
			if r1 == 0 {
				c.typ = TypeMMC
				break
			}
		}
		if c.link.Millis()-start >= initTimeoutMS {
			c.logerror("init:acmd41 timeout")
			return ErrTimeout
		}
		c.link.Delay(10)
	}

	// CMD58: read OCR, the CCS bit selects block addressing.
	if c.typ >= TypeSDv2 {
		r1, err = c.cmd(cmd58ReadOCR, 0)
		if err != nil {
			c.release()
			return ErrSpi
		}
		if r1 == 0 {
			var raw [4]byte
			if err := c.link.TransferBulk(nil, raw[:]); err != nil {
				c.release()
				return ErrSpi
			}
			c.release()
			if binary.BigEndian.Uint32(raw[:])&ocrCCS != 0 {
				c.blockAddr = true
				c.typ = TypeSDHC
			}
		} else {
			c.release()
		}
	}

	// CMD16: byte-addressed cards need the block length pinned to 512.
	if !c.blockAddr {
		c.cmd(cmd16SetBlockLen, SectorSize)
		c.release()
	}

	if err := c.readRegister(cmd9SendCSD, c.csd[:]); err != nil {
		return err
	}
	c.decodeCapacity()
	if err := c.readRegister(cmd10SendCID, c.cid[:]); err != nil {
		return err
	}

	target := c.cfg.FastHz
	if target == 0 {
		target = defaultFastHz
	}
	if target > maxHz {
		target = maxHz
	}
	hz, err = c.link.Init(target)
	if err != nil {
		return ErrSpi
	}
	c.speedHz = hz

	c.initialized = true
	c.state = stateReady
	c.debug("init:done",
		slog.String("type", c.typ.String()),
		slog.Uint64("capacity", c.capacity),
		slog.Uint64("hz", uint64(hz)))
	return nil
}

// readRegister reads a 16-byte register (CSD or CID) over the data token protocol.
func (c *Card) readRegister(idx uint8, dst []byte) error {
	r1, err := c.cmd(idx, 0)
	if err != nil {
		c.release()
		return ErrSpi
	}
	if r1 != 0 {
		c.release()
		return ErrCommand
	}
	tok, err := c.waitToken(readTimeoutMS)
	if err != nil || tok != tokenSingle {
		c.release()
		if err != nil {
			return ErrSpi
		}
		if tok == 0xFF {
			return ErrTimeout
		}
		return ErrRead
	}
	if err := c.link.TransferBulk(nil, dst); err != nil {
		c.release()
		return ErrSpi
	}
	// Discard the 16-bit data CRC.
	c.link.Transfer(0xFF)
	c.link.Transfer(0xFF)
	c.release()
	return nil
}

// decodeCapacity derives the sector count from the CSD register. CSD v1 packs a
// C_SIZE/C_SIZE_MULT/READ_BL_LEN triple; CSD v2 carries a 22-bit C_SIZE in
// 512KiB units. Capacities above 32GiB reclassify the card as SDXC.
func (c *Card) decodeCapacity() {
	csdVer := (c.csd[0] >> 6) & 0x03
	if csdVer == 0 {
		cSize := uint32(c.csd[6]&0x03)<<10 | uint32(c.csd[7])<<2 | uint32(c.csd[8]>>6)&0x03
		cMult := (c.csd[9]&0x03)<<1 | (c.csd[10]>>7)&0x01
		readBl := c.csd[5] & 0x0F
		c.sectors = (cSize + 1) << (cMult + 2 + readBl - 9)
	} else {
		cSize := uint32(c.csd[7]&0x3F)<<16 | uint32(c.csd[8])<<8 | uint32(c.csd[9])
		c.sectors = (cSize + 1) * 1024
	}
	c.capacity = uint64(c.sectors) * SectorSize
	if c.capacity > 32<<30 {
		c.typ = TypeSDXC
	}
}

// Deinit invalidates the card state. A subsequent Init is required for I/O.
func (c *Card) Deinit() {
	c.initialized = false
	c.state = stateUninit
}

// Ready reports whether the card is initialized and still present.
func (c *Card) Ready() bool {
	return c.initialized && c.cfg.detect()
}

// SetSpeed re-clocks the bus, capped at the protocol maximum, and returns the
// rate achieved.
func (c *Card) SetSpeed(hz uint32) (uint32, error) {
	if hz > maxHz {
		hz = maxHz
	}
	actual, err := c.link.Init(hz)
	if err != nil {
		return 0, ErrSpi
	}
	c.speedHz = actual
	return actual, nil
}

// Type returns the card classification established by Init.
func (c *Card) Type() Type { return c.typ }

// Capacity returns the card size in bytes.
func (c *Card) Capacity() uint64 { return c.capacity }

// NumSectors returns the number of 512-byte sectors on the card.
func (c *Card) NumSectors() uint32 { return c.sectors }

// SpeedHz returns the current SPI clock rate.
func (c *Card) SpeedHz() uint32 { return c.speedHz }

// CID returns the raw 16-byte card identification register read during Init.
func (c *Card) CID() [16]byte { return c.cid }

// CSD returns the raw 16-byte card specific data register read during Init.
func (c *Card) CSD() [16]byte { return c.csd }

// Counters returns the read/write/error tallies since Init.
func (c *Card) Counters() Counters { return c.count }

// checkPresent gates every externally-called operation. Removal drops the
// state machine back to Uninit.
func (c *Card) checkPresent() error {
	if !c.cfg.detect() {
		c.initialized = false
		c.state = stateUninit
		return ErrNoCard
	}
	if !c.initialized {
		return ErrInit
	}
	return nil
}

// addr converts a sector index to a command argument: block-addressed cards
// take the index directly, byte-addressed cards take the byte offset.
func (c *Card) addr(sector uint32) uint32 {
	if c.blockAddr {
		return sector
	}
	return sector * SectorSize
}

func (c *Card) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.log == nil {
		return
	}
	c.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (c *Card) debug(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelDebug, msg, attrs...)
}

func (c *Card) logerror(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelError, msg, attrs...)
}
