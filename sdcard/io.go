package sdcard

import "log/slog"

// readErrorKind classifies a failed wait for a data token. A byte with the
// high three bits clear is an error token from the card; 0xFF means the token
// never arrived within the timeout.
func readErrorKind(tok byte) Error {
	switch {
	case tok == 0xFF:
		return ErrTimeout
	case tok&0x08 != 0: // address out of range
		return ErrRead
	case tok&0x04 != 0: // card ECC failed
		return ErrRead
	case tok&0x02 != 0: // CC error
		return ErrCrc
	case tok&0xE0 == 0:
		return ErrRead
	}
	return ErrSpi
}

func (c *Card) fail(err error) error {
	c.count.Errors++
	if c.state != stateUninit {
		c.state = stateReady
	}
	return err
}

// ReadSector reads one 512-byte sector into dst.
func (c *Card) ReadSector(sector uint32, dst []byte) error {
	if len(dst) < SectorSize {
		return ErrInvalidParam
	}
	if err := c.checkPresent(); err != nil {
		return err
	}
	c.state = stateReading

	r1, err := c.cmd(cmd17ReadSingle, c.addr(sector))
	if err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	if r1 != 0 {
		c.release()
		c.logerror("cmd17", slog.Uint64("r1", uint64(r1)), slog.Uint64("sector", uint64(sector)))
		return c.fail(ErrCommand)
	}
	tok, err := c.waitToken(readTimeoutMS)
	if err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	if tok != tokenSingle {
		c.release()
		c.logerror("cmd17:token", slog.Uint64("token", uint64(tok)))
		return c.fail(readErrorKind(tok))
	}
	if err := c.link.TransferBulk(nil, dst[:SectorSize]); err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	// Discard the 16-bit data CRC.
	c.link.Transfer(0xFF)
	c.link.Transfer(0xFF)
	c.release()

	c.count.Reads++
	c.state = stateReady
	return nil
}

// ReadSectors reads count consecutive sectors starting at sector into dst
// using CMD18 when count exceeds one.
func (c *Card) ReadSectors(sector uint32, dst []byte, count uint32) error {
	if count == 0 || len(dst) < int(count)*SectorSize {
		return ErrInvalidParam
	}
	if count == 1 {
		return c.ReadSector(sector, dst)
	}
	if err := c.checkPresent(); err != nil {
		return err
	}
	c.state = stateMultiReading

	r1, err := c.cmd(cmd18ReadMulti, c.addr(sector))
	if err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	if r1 != 0 {
		c.release()
		return c.fail(ErrCommand)
	}
	var rerr error
	for i := uint32(0); i < count; i++ {
		tok, err := c.waitToken(readTimeoutMS)
		if err != nil {
			rerr = ErrSpi
			break
		}
		if tok != tokenSingle {
			rerr = readErrorKind(tok)
			break
		}
		if err := c.link.TransferBulk(nil, dst[i*SectorSize:(i+1)*SectorSize]); err != nil {
			rerr = ErrSpi
			break
		}
		c.link.Transfer(0xFF)
		c.link.Transfer(0xFF)
		c.count.Reads++
	}

	c.cmd(cmd12StopTransmit, 0)
	c.waitReady(readTimeoutMS)
	c.release()

	if rerr != nil {
		return c.fail(rerr)
	}
	c.state = stateReady
	return nil
}

// WriteSector writes one 512-byte sector from src.
func (c *Card) WriteSector(sector uint32, src []byte) error {
	if len(src) < SectorSize {
		return ErrInvalidParam
	}
	if err := c.checkPresent(); err != nil {
		return err
	}
	if c.cfg.writeProtected() {
		return ErrWriteProtect
	}
	c.state = stateWriting

	r1, err := c.cmd(cmd24WriteSingle, c.addr(sector))
	if err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	if r1 != 0 {
		c.release()
		c.logerror("cmd24", slog.Uint64("r1", uint64(r1)), slog.Uint64("sector", uint64(sector)))
		return c.fail(ErrCommand)
	}

	// One filler byte, start token, data, dummy CRC.
	c.link.Transfer(0xFF)
	c.link.Transfer(tokenSingle)
	if err := c.link.TransferBulk(src[:SectorSize], nil); err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	c.link.Transfer(0xFF)
	c.link.Transfer(0xFF)

	resp, err := c.link.Transfer(0xFF)
	if err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	if resp&0x1F != 0x05 {
		c.release()
		c.logerror("cmd24:data response", slog.Uint64("resp", uint64(resp)))
		return c.fail(ErrSpi)
	}
	if !c.waitReady(writeTimeoutMS) {
		c.link.CSHigh()
		return c.fail(ErrTimeout)
	}
	c.release()

	c.count.Writes++
	c.state = stateReady
	return nil
}

// WriteSectors writes count consecutive sectors from src using CMD25 when
// count exceeds one. An ACMD23 pre-erase hint precedes the transfer.
func (c *Card) WriteSectors(sector uint32, src []byte, count uint32) error {
	if count == 0 || len(src) < int(count)*SectorSize {
		return ErrInvalidParam
	}
	if count == 1 {
		return c.WriteSector(sector, src)
	}
	if err := c.checkPresent(); err != nil {
		return err
	}
	if c.cfg.writeProtected() {
		return ErrWriteProtect
	}
	c.state = stateMultiWriting

	c.acmd(acmd23PreErase, count)
	c.release()

	r1, err := c.cmd(cmd25WriteMulti, c.addr(sector))
	if err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	if r1 != 0 {
		c.release()
		return c.fail(ErrCommand)
	}

	var werr error
	for i := uint32(0); i < count; i++ {
		c.link.Transfer(0xFF)
		c.link.Transfer(tokenMultiW)
		if err := c.link.TransferBulk(src[i*SectorSize:(i+1)*SectorSize], nil); err != nil {
			werr = ErrSpi
			break
		}
		c.link.Transfer(0xFF)
		c.link.Transfer(0xFF)

		resp, err := c.link.Transfer(0xFF)
		if err != nil {
			werr = ErrSpi
			break
		}
		if resp&0x1F != 0x05 {
			werr = ErrSpi
			break
		}
		if !c.waitReady(writeTimeoutMS) {
			werr = ErrTimeout
			break
		}
		c.count.Writes++
	}

	c.link.Transfer(tokenStop)
	c.link.Transfer(0xFF)
	c.waitReady(writeTimeoutMS)
	c.release()

	if werr != nil {
		return c.fail(werr)
	}
	c.state = stateReady
	return nil
}

// Erase wipes the inclusive sector range [startSector, endSector]. Erases can
// be slow; the driver waits up to 30 seconds for completion.
func (c *Card) Erase(startSector, endSector uint32) error {
	if endSector < startSector {
		return ErrInvalidParam
	}
	if err := c.checkPresent(); err != nil {
		return err
	}
	if c.cfg.writeProtected() {
		return ErrWriteProtect
	}
	c.state = stateErasing

	r1, err := c.cmd(cmd32EraseStart, c.addr(startSector))
	c.release()
	if err != nil {
		return c.fail(ErrSpi)
	}
	if r1 != 0 {
		return c.fail(ErrCommand)
	}
	r1, err = c.cmd(cmd33EraseEnd, c.addr(endSector))
	c.release()
	if err != nil {
		return c.fail(ErrSpi)
	}
	if r1 != 0 {
		return c.fail(ErrCommand)
	}
	r1, err = c.cmd(cmd38Erase, 0)
	if err != nil {
		c.release()
		return c.fail(ErrSpi)
	}
	if r1 != 0 {
		c.release()
		return c.fail(ErrCommand)
	}
	if !c.waitReady(eraseTimeoutMS) {
		c.link.CSHigh()
		return c.fail(ErrTimeout)
	}
	c.release()

	c.state = stateReady
	return nil
}

// ReadBlocks implements the block device interface consumed by the FAT volume
// engine. dst length must be a multiple of 512.
func (c *Card) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	if startBlock < 0 || len(dst)%SectorSize != 0 {
		return 0, ErrInvalidParam
	}
	n := uint32(len(dst) / SectorSize)
	if n == 0 {
		return 0, nil
	}
	if err := c.ReadSectors(uint32(startBlock), dst, n); err != nil {
		return 0, err
	}
	return len(dst), nil
}

// WriteBlocks implements the block device interface consumed by the FAT volume
// engine. data length must be a multiple of 512.
func (c *Card) WriteBlocks(data []byte, startBlock int64) (int, error) {
	if startBlock < 0 || len(data)%SectorSize != 0 {
		return 0, ErrInvalidParam
	}
	n := uint32(len(data) / SectorSize)
	if n == 0 {
		return 0, nil
	}
	if err := c.WriteSectors(uint32(startBlock), data, n); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Mode reports the access mode of the device: 0 when no usable card is
// attached, 1 when read-only (write protect tab), 3 when read-write.
func (c *Card) Mode() uint8 {
	if !c.initialized || !c.cfg.detect() {
		return 0
	}
	if c.cfg.writeProtected() {
		return 1
	}
	return 3
}
