package sdcard

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// simLink emulates an SD card on the far side of the SPI link: it collects
// command frames, queues response bytes and services the data-token protocol
// against an in-memory sector image.
type simLink struct {
	img []byte

	v1      bool // CMD8 rejected with the illegal-command bit
	mmc     bool // CMD55 rejected; CMD1 initializes
	badEcho bool // CMD8 answers a corrupted echo pattern
	ccs bool // OCR CCS set: block addressing
	csd [16]byte
	cid [16]byte

	acmdIdle int // ACMD41 responses left before leaving idle

	millis uint32
	cs     bool

	cmdBuf [6]byte
	cmdLen int
	resp   []byte
	appCmd bool

	multiRead     bool
	multiReadNext uint32

	wrAwait   byte // expected data token, 0 when no write pending
	wrSector  uint32
	wrMulti   bool
	wrBuf     []byte
	eraseFrom uint32
}

func (l *simLink) Init(hz uint32) (uint32, error) { return hz, nil }
func (l *simLink) Delay(ms uint32)                { l.millis += ms }
func (l *simLink) Millis() uint32                 { l.millis++; return l.millis }
func (l *simLink) CSLow()                         { l.cs = true }

func (l *simLink) CSHigh() {
	l.cs = false
	l.cmdLen = 0
	l.resp = nil
	l.wrAwait = 0
	l.wrBuf = nil
	l.multiRead = false
}

func (l *simLink) TransferBulk(tx, rx []byte) error {
	n := len(tx)
	if len(rx) > n {
		n = len(rx)
	}
	for i := 0; i < n; i++ {
		out := byte(0xFF)
		if tx != nil {
			out = tx[i]
		}
		in, err := l.Transfer(out)
		if err != nil {
			return err
		}
		if rx != nil {
			rx[i] = in
		}
	}
	return nil
}

func (l *simLink) Transfer(tx byte) (byte, error) {
	if !l.cs {
		return 0xFF, nil
	}
	// Drain any queued response bytes (e.g. the R1 reply to CMD24/CMD25)
	// before interpreting further bytes as the write token/data/CRC.
	if len(l.resp) > 0 {
		b := l.resp[0]
		l.resp = l.resp[1:]
		return b, nil
	}
	// Pending write transfer: consume the token, data and CRC.
	if l.wrAwait != 0 {
		if l.wrBuf == nil {
			switch {
			case tx == l.wrAwait:
				l.wrBuf = make([]byte, 0, 514)
			case tx == tokenStop && l.wrMulti:
				l.wrAwait = 0
				l.resp = append(l.resp, 0x00) // busy, then ready
			}
			return 0xFF, nil
		}
		l.wrBuf = append(l.wrBuf, tx)
		if len(l.wrBuf) == 514 {
			copy(l.img[int(l.wrSector)*512:], l.wrBuf[:512])
			l.wrBuf = nil
			l.resp = append(l.resp, 0x05, 0x00) // data accepted, busy
			if l.wrMulti {
				l.wrSector++
			} else {
				l.wrAwait = 0
			}
		}
		return 0xFF, nil
	}
	// Command frame collection.
	if l.cmdLen > 0 {
		l.cmdBuf[l.cmdLen] = tx
		l.cmdLen++
		if l.cmdLen == 6 {
			l.cmdLen = 0
			l.execute()
		}
		return 0xFF, nil
	}
	if tx&0xC0 == 0x40 {
		l.cmdBuf[0] = tx
		l.cmdLen = 1
		return 0xFF, nil
	}
	if len(l.resp) > 0 {
		b := l.resp[0]
		l.resp = l.resp[1:]
		return b, nil
	}
	if l.multiRead {
		l.queueBlock(l.multiReadNext)
		l.multiReadNext++
		b := l.resp[0]
		l.resp = l.resp[1:]
		return b, nil
	}
	return 0xFF, nil
}

func (l *simLink) arg() uint32 {
	return uint32(l.cmdBuf[1])<<24 | uint32(l.cmdBuf[2])<<16 |
		uint32(l.cmdBuf[3])<<8 | uint32(l.cmdBuf[4])
}

func (l *simLink) sector() uint32 {
	if l.ccs {
		return l.arg()
	}
	return l.arg() / 512
}

func (l *simLink) queueBlock(sector uint32) {
	l.resp = append(l.resp, tokenSingle)
	l.resp = append(l.resp, l.img[int(sector)*512:int(sector+1)*512]...)
	l.resp = append(l.resp, 0, 0)
}

func (l *simLink) execute() {
	cmd := l.cmdBuf[0] & 0x3F
	app := l.appCmd
	l.appCmd = false
	switch cmd {
	case 0:
		l.resp = append(l.resp, 0x01)
	case 8:
		switch {
		case l.v1:
			l.resp = append(l.resp, 0x01|r1IllegalCmd)
		case l.badEcho:
			l.resp = append(l.resp, 0x01, 0x00, 0x00, 0x01, 0x55)
		default:
			l.resp = append(l.resp, 0x01, 0x00, 0x00, 0x01, 0xAA)
		}
	case 55:
		if l.mmc {
			l.resp = append(l.resp, 0x01|r1IllegalCmd)
		} else {
			l.appCmd = true
			l.resp = append(l.resp, 0x01)
		}
	case 41:
		if !app {
			l.resp = append(l.resp, 0x01|r1IllegalCmd)
		} else if l.acmdIdle > 0 {
			l.acmdIdle--
			l.resp = append(l.resp, 0x01)
		} else {
			l.resp = append(l.resp, 0x00)
		}
	case 1:
		if l.mmc {
			l.resp = append(l.resp, 0x00)
		} else {
			l.resp = append(l.resp, 0x01|r1IllegalCmd)
		}
	case 58:
		var ocr uint32
		if l.ccs {
			ocr = ocrCCS
		}
		l.resp = append(l.resp, 0x00,
			byte(ocr>>24), byte(ocr>>16), byte(ocr>>8), byte(ocr))
	case 16:
		l.resp = append(l.resp, 0x00)
	case 9:
		l.resp = append(l.resp, 0x00, tokenSingle)
		l.resp = append(l.resp, l.csd[:]...)
		l.resp = append(l.resp, 0, 0)
	case 10:
		l.resp = append(l.resp, 0x00, tokenSingle)
		l.resp = append(l.resp, l.cid[:]...)
		l.resp = append(l.resp, 0, 0)
	case 17:
		l.resp = append(l.resp, 0x00)
		l.queueBlock(l.sector())
	case 18:
		l.multiRead = true
		l.multiReadNext = l.sector()
		l.resp = append(l.resp, 0x00)
	case 12:
		l.multiRead = false
		l.resp = append(l.resp, 0x00, 0x00) // R1, one busy byte
	case 24:
		l.wrAwait = tokenSingle
		l.wrMulti = false
		l.wrSector = l.sector()
		l.resp = append(l.resp, 0x00)
	case 25:
		l.wrAwait = tokenMultiW
		l.wrMulti = true
		l.wrSector = l.sector()
		l.resp = append(l.resp, 0x00)
	case 23: // ACMD23 pre-erase hint
		l.resp = append(l.resp, 0x00)
	case 32:
		l.eraseFrom = l.sector()
		l.resp = append(l.resp, 0x00)
	case 33:
		l.resp = append(l.resp, 0x00)
		end := l.sector()
		for s := l.eraseFrom; s <= end && int(s+1)*512 <= len(l.img); s++ {
			clear(l.img[int(s)*512 : int(s+1)*512])
		}
	case 38:
		l.resp = append(l.resp, 0x00, 0x00) // R1, busy
	default:
		l.resp = append(l.resp, 0x01|r1IllegalCmd)
	}
}

// csdV2 encodes a CSD version 2 register for the given sector count.
func csdV2(sectors uint32) (csd [16]byte) {
	csize := sectors/1024 - 1
	csd[0] = 0x40
	csd[7] = byte(csize>>16) & 0x3F
	csd[8] = byte(csize >> 8)
	csd[9] = byte(csize)
	return csd
}

// csdV1 encodes a CSD version 1 register: READ_BL_LEN=9, C_SIZE_MULT=7, so
// the capacity is (C_SIZE+1)*512 sectors.
func csdV1(sectors uint32) (csd [16]byte) {
	csize := sectors/512 - 1
	csd[5] = 9
	csd[6] = byte(csize>>10) & 0x03
	csd[7] = byte(csize >> 2)
	csd[8] = byte(csize << 6)
	csd[9] = 0x03 // C_SIZE_MULT high bits
	csd[10] = 0x80
	return csd
}

func newSimV2HC(sectors uint32) *simLink {
	return &simLink{
		img: make([]byte, int(sectors)*512),
		ccs: true,
		csd: csdV2(sectors),
		cid: [16]byte{0x03, 'S', 'D', 'T', 'E', 'S', 'T'},
	}
}

func TestInitSDv2HighCapacity(t *testing.T) {
	const sectors = 65536 // 32 MiB
	link := newSimV2HC(sectors)
	link.acmdIdle = 3
	card := New(link, Config{})
	require.NoError(t, card.Init())
	require.Equal(t, TypeSDHC, card.Type())
	require.True(t, card.blockAddr)
	require.Equal(t, uint32(sectors), card.NumSectors())
	require.Equal(t, uint64(sectors)*512, card.Capacity())
	require.Equal(t, "SDHC", card.Type().String())
	require.True(t, card.Ready())
	cid := card.CID()
	require.Equal(t, byte('S'), cid[1])
}

func TestInitSDXCPromotion(t *testing.T) {
	const sectors = 68 << 20 // 34 GiB, past the 32 GiB line
	link := &simLink{ccs: true, csd: csdV2(sectors)}
	card := New(link, Config{})
	require.NoError(t, card.Init())
	require.Equal(t, TypeSDXC, card.Type())
}

// CMD8 rejection with the illegal-command bit classifies the card as v1 and
// keeps byte addressing.
func TestInitSDv1(t *testing.T) {
	const sectors = 4096
	link := &simLink{
		img: make([]byte, sectors*512),
		v1:  true,
		csd: csdV1(sectors),
	}
	card := New(link, Config{})
	require.NoError(t, card.Init())
	require.Equal(t, TypeSDv1, card.Type())
	require.False(t, card.blockAddr)
	require.Equal(t, uint32(sectors), card.NumSectors())
}

func TestInitMMC(t *testing.T) {
	link := &simLink{
		img: make([]byte, 4096*512),
		v1:  true,
		mmc: true,
		csd: csdV1(4096),
	}
	card := New(link, Config{})
	require.NoError(t, card.Init())
	require.Equal(t, TypeMMC, card.Type())
}

func TestInitNoCard(t *testing.T) {
	link := newSimV2HC(1024)
	card := New(link, Config{CardDetect: func() bool { return false }})
	require.ErrorIs(t, card.Init(), ErrNoCard)
}

func TestInitTimeout(t *testing.T) {
	link := newSimV2HC(1024)
	link.acmdIdle = 1 << 30 // never leaves idle
	card := New(link, Config{})
	require.ErrorIs(t, card.Init(), ErrTimeout)
}

// A wrong CMD8 echo pattern means the voltage range is unsupported.
func TestVoltageRejected(t *testing.T) {
	link := newSimV2HC(1024)
	link.badEcho = true
	card := New(link, Config{})
	require.ErrorIs(t, card.Init(), ErrVoltage)
}

func TestReadWriteSector(t *testing.T) {
	link := newSimV2HC(1024)
	card := New(link, Config{})
	require.NoError(t, card.Init())

	src := make([]byte, 512)
	for i := range src {
		src[i] = byte(i)
	}
	require.NoError(t, card.WriteSector(7, src))
	require.True(t, bytes.Equal(src, link.img[7*512:8*512]))

	dst := make([]byte, 512)
	require.NoError(t, card.ReadSector(7, dst))
	require.True(t, bytes.Equal(src, dst))

	c := card.Counters()
	require.Equal(t, uint32(1), c.Reads)
	require.Equal(t, uint32(1), c.Writes)
	require.Equal(t, uint32(0), c.Errors)
}

func TestMultiBlockReadWrite(t *testing.T) {
	link := newSimV2HC(1024)
	card := New(link, Config{})
	require.NoError(t, card.Init())

	src := make([]byte, 3*512)
	for i := range src {
		src[i] = byte(i * 3)
	}
	require.NoError(t, card.WriteSectors(10, src, 3))
	require.True(t, bytes.Equal(src, link.img[10*512:13*512]))

	dst := make([]byte, 3*512)
	require.NoError(t, card.ReadSectors(10, dst, 3))
	require.True(t, bytes.Equal(src, dst))

	c := card.Counters()
	require.Equal(t, uint32(3), c.Reads)
	require.Equal(t, uint32(3), c.Writes)
}

func TestBlockDeviceAdapters(t *testing.T) {
	link := newSimV2HC(1024)
	card := New(link, Config{})
	require.NoError(t, card.Init())

	data := bytes.Repeat([]byte{0xAB}, 1024)
	n, err := card.WriteBlocks(data, 5)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
	back := make([]byte, 1024)
	n, err = card.ReadBlocks(back, 5)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
	require.Equal(t, data, back)

	require.Equal(t, uint8(3), card.Mode())
	_, err = card.ReadBlocks(make([]byte, 100), 0) // not sector aligned
	require.ErrorIs(t, err, ErrInvalidParam)
}

func TestErase(t *testing.T) {
	link := newSimV2HC(64)
	for i := range link.img {
		link.img[i] = 0xEE
	}
	card := New(link, Config{})
	require.NoError(t, card.Init())

	require.NoError(t, card.Erase(2, 3))
	require.True(t, bytes.Equal(make([]byte, 1024), link.img[2*512:4*512]))
	require.Equal(t, byte(0xEE), link.img[1*512])
	require.Equal(t, byte(0xEE), link.img[4*512])
}

func TestWriteProtect(t *testing.T) {
	link := newSimV2HC(64)
	card := New(link, Config{WriteProtect: func() bool { return true }})
	require.NoError(t, card.Init())
	err := card.WriteSector(0, make([]byte, 512))
	require.ErrorIs(t, err, ErrWriteProtect)
	require.Equal(t, uint8(1), card.Mode())
}

func TestCardRemovalDropsToUninit(t *testing.T) {
	present := true
	link := newSimV2HC(64)
	card := New(link, Config{CardDetect: func() bool { return present }})
	require.NoError(t, card.Init())

	present = false
	err := card.ReadSector(0, make([]byte, 512))
	require.ErrorIs(t, err, ErrNoCard)
	require.False(t, card.Ready())
	// After removal the card must be reinitialized before I/O.
	present = true
	err = card.ReadSector(0, make([]byte, 512))
	require.ErrorIs(t, err, ErrInit)
}

func TestUninitializedIO(t *testing.T) {
	link := newSimV2HC(64)
	card := New(link, Config{})
	err := card.ReadSector(0, make([]byte, 512))
	require.ErrorIs(t, err, ErrInit)
}

func TestCRC7KnownVectors(t *testing.T) {
	// CMD0 with zero argument frames as 0x40 00 00 00 00 95.
	require.Equal(t, byte(0x95), crc7([]byte{0x40, 0, 0, 0, 0}))
	// CMD8 with 0x1AA frames as 0x48 00 00 01 AA 87.
	require.Equal(t, byte(0x87), crc7([]byte{0x48, 0x00, 0x00, 0x01, 0xAA}))
}

func TestSetSpeedCaps(t *testing.T) {
	link := newSimV2HC(64)
	card := New(link, Config{})
	require.NoError(t, card.Init())
	hz, err := card.SetSpeed(50_000_000)
	require.NoError(t, err)
	require.Equal(t, uint32(maxHz), hz)
}

func TestTypeStrings(t *testing.T) {
	names := map[Type]string{
		TypeNone: "None", TypeMMC: "MMC", TypeSDv1: "SD v1.x",
		TypeSDv2: "SD v2.0", TypeSDHC: "SDHC", TypeSDXC: "SDXC",
	}
	for typ, want := range names {
		require.Equal(t, want, typ.String())
	}
}
