// Package mfrc522 implements the subset of ISO 14443-A and MIFARE Classic
// needed to read and write data blocks, on top of periph's low-level MFRC522
// driver.
//
// periph's high-level mfrc522.Dev is not used: its reads wait on the IRQ
// pin and bundle select, authenticate, read and stop-crypto into one call,
// and its Halt powers the chip down instead of halting the card. A tag
// session here selects once, authenticates each sector trailer before every
// access and ends with a PICC halt.
package mfrc522

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/mfrc522/commands"
)

// BlockSize is the size of a MIFARE Classic block.
const BlockSize = 16

const (
	resetDelay = 50 * time.Millisecond

	// Cascade level 3 select, missing from commands.
	piccSelCL3 = 0x97
	// A 4-bit ACK from the card.
	piccACK = 0x0A
)

var (
	// ErrNoCard is returned by Detect when no card answers.
	ErrNoCard = errors.New("mfrc522: no card")
	// ErrCRC means a response failed its CRC_A check.
	ErrCRC = errors.New("mfrc522: crc mismatch")
	// ErrNAK means the card refused a write step.
	ErrNAK = errors.New("mfrc522: not acknowledged")
	// ErrAuth means MIFARE authentication failed.
	ErrAuth = errors.New("mfrc522: authentication failed")
	// ErrNotFound means no chip answered on the bus.
	ErrNotFound = errors.New("mfrc522: chip not found")
)

// PICCType is the card family derived from the SAK byte.
type PICCType int

const (
	PICCUnknown PICCType = iota
	PICCMifareMini
	PICCMifare1K
	PICCMifare4K
	PICCMifareUL
	PICCMifarePlus
	PICCISO14443_4
)

func (t PICCType) String() string {
	switch t {
	case PICCMifareMini:
		return "MIFARE Mini"
	case PICCMifare1K:
		return "MIFARE 1KB"
	case PICCMifare4K:
		return "MIFARE 4KB"
	case PICCMifareUL:
		return "MIFARE Ultralight"
	case PICCMifarePlus:
		return "MIFARE Plus"
	case PICCISO14443_4:
		return "ISO/IEC 14443-4"
	default:
		return "unknown"
	}
}

// Classic reports whether the type speaks the MIFARE Classic protocol.
func (t PICCType) Classic() bool {
	return t == PICCMifareMini || t == PICCMifare1K || t == PICCMifare4K
}

// TypeFromSAK maps a select acknowledge to a card type.
func TypeFromSAK(sak byte) PICCType {
	switch sak & 0x7F {
	case 0x09:
		return PICCMifareMini
	case 0x08:
		return PICCMifare1K
	case 0x18:
		return PICCMifare4K
	case 0x00:
		return PICCMifareUL
	case 0x10, 0x11:
		return PICCMifarePlus
	case 0x20:
		return PICCISO14443_4
	default:
		return PICCUnknown
	}
}

// Card is a selected card.
type Card struct {
	UID  []byte
	SAK  byte
	Type PICCType
}

// Transport is the part of periph's commands.LowLevel this package uses.
type Transport interface {
	DevRead(address int) (byte, error)
	DevWrite(address int, data byte) error
	CardWrite(command byte, data []byte) ([]byte, int, error)
	CRC(data []byte) ([]byte, error)
	Auth(mode byte, blockAddress byte, sectorKey [6]byte, serial []byte) (commands.AuthStatus, error)
	StopCrypto() error
}

var _ Transport = (*commands.LowLevel)(nil)

// Dev is an MFRC522 reader.
type Dev struct {
	t Transport
}

// New wraps an initialized transport.
func New(t Transport) *Dev {
	return &Dev{t: t}
}

// Open connects to the named SPI port, initializes the chip and checks that
// it answers. The reset pin is required by the low-level driver.
func Open(port, resetPin string, lookup func(string) (gpio.PinIO, error)) (*Dev, io.Closer, error) {
	if resetPin == "" {
		return nil, nil, errors.New("mfrc522: reset pin not configured")
	}
	rst, err := lookup(resetPin)
	if err != nil {
		return nil, nil, err
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, nil, fmt.Errorf("open spi port %q: %w", port, err)
	}
	// No IRQ pin: cards are polled from the loop.
	ll, err := commands.NewLowLevelSPI(p, rst, nil)
	if err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("mfrc522: %w", err)
	}
	time.Sleep(resetDelay)
	if err := ll.Init(); err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("mfrc522: init: %w", err)
	}

	d := New(ll)
	v, err := d.Version()
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	if v == 0x00 || v == 0xFF {
		p.Close()
		return nil, nil, ErrNotFound
	}
	return d, p, nil
}

// Version returns the chip version register: 0x91 or 0x92 for genuine
// parts, 0x88 for a common clone.
func (d *Dev) Version() (byte, error) {
	return d.t.DevRead(commands.VersionReg)
}

// Detect wakes an idle card in the field and selects it. Halted cards do
// not answer.
func (d *Dev) Detect() (Card, error) {
	if err := d.t.DevWrite(commands.BitFramingReg, 0x07); err != nil {
		return Card{}, err
	}
	// The low-level driver reports a silent field as an IRQ error, so any
	// failed or short answer to REQA counts as no card.
	_, bits, err := d.t.CardWrite(commands.PCD_TRANSCEIVE, []byte{commands.PICC_REQIDL})
	if err != nil || bits != 16 {
		return Card{}, ErrNoCard
	}

	var uid []byte
	for _, sel := range []byte{commands.PICC_ANTICOLL, commands.PICC_ANTICOLL2, piccSelCL3} {
		part, sak, err := d.selectLevel(sel)
		if err != nil {
			return Card{}, err
		}
		if sak&0x04 == 0 {
			uid = append(uid, part...)
			return Card{UID: uid, SAK: sak, Type: TypeFromSAK(sak)}, nil
		}
		// UID incomplete: drop the cascade tag and go one level deeper.
		uid = append(uid, part[1:]...)
	}
	return Card{}, errors.New("mfrc522: uid longer than three cascade levels")
}

func (d *Dev) selectLevel(sel byte) ([]byte, byte, error) {
	if err := d.t.DevWrite(commands.BitFramingReg, 0x00); err != nil {
		return nil, 0, err
	}
	resp, _, err := d.t.CardWrite(commands.PCD_TRANSCEIVE, []byte{sel, 0x20})
	if err != nil {
		return nil, 0, fmt.Errorf("mfrc522: anticollision: %w", err)
	}
	if len(resp) != 5 {
		return nil, 0, fmt.Errorf("mfrc522: anticollision returned %d bytes", len(resp))
	}
	if resp[0]^resp[1]^resp[2]^resp[3] != resp[4] {
		return nil, 0, fmt.Errorf("mfrc522: uid check byte mismatch")
	}

	frame, err := d.withCRC(append([]byte{sel, 0x70}, resp...))
	if err != nil {
		return nil, 0, err
	}
	sak, _, err := d.t.CardWrite(commands.PCD_TRANSCEIVE, frame)
	if err != nil {
		return nil, 0, fmt.Errorf("mfrc522: select: %w", err)
	}
	if len(sak) != 3 {
		return nil, 0, fmt.Errorf("mfrc522: select returned %d bytes", len(sak))
	}
	crc, err := d.t.CRC(sak[:1])
	if err != nil {
		return nil, 0, err
	}
	if !bytes.Equal(crc, sak[1:]) {
		return nil, 0, ErrCRC
	}
	return resp[:4], sak[0], nil
}

// Authenticate runs MIFARE key A authentication for block. uid is the
// selected card's UID; its last four bytes are used.
func (d *Dev) Authenticate(block byte, key []byte, uid []byte) error {
	if len(key) != 6 {
		return fmt.Errorf("mfrc522: key must be 6 bytes, got %d", len(key))
	}
	if len(uid) < 4 {
		return fmt.Errorf("mfrc522: uid must be at least 4 bytes, got %d", len(uid))
	}
	var k [6]byte
	copy(k[:], key)

	status, err := d.t.Auth(commands.PICC_AUTHENT1A, block, k, uid[len(uid)-4:])
	if err != nil {
		return fmt.Errorf("%w: block %d: %v", ErrAuth, block, err)
	}
	if status != commands.AuthOk {
		return fmt.Errorf("%w: block %d", ErrAuth, block)
	}
	return nil
}

// ReadBlock reads one 16-byte block. The sector must be authenticated.
func (d *Dev) ReadBlock(block byte) ([]byte, error) {
	frame, err := d.withCRC([]byte{commands.PICC_READ, block})
	if err != nil {
		return nil, err
	}
	resp, bits, err := d.t.CardWrite(commands.PCD_TRANSCEIVE, frame)
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", block, err)
	}
	// The card sends the block and its CRC; the driver returns the block.
	if bits != (BlockSize+2)*8 || len(resp) != BlockSize {
		return nil, fmt.Errorf("read block %d: got %d bits", block, bits)
	}
	return resp, nil
}

// WriteBlock writes one 16-byte block. The sector must be authenticated.
func (d *Dev) WriteBlock(block byte, data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("write block %d: need %d bytes, got %d", block, BlockSize, len(data))
	}
	frame, err := d.withCRC([]byte{commands.PICC_WRITE, block})
	if err != nil {
		return err
	}
	if err := d.expectACK(frame); err != nil {
		return fmt.Errorf("write block %d: %w", block, err)
	}
	frame, err = d.withCRC(data)
	if err != nil {
		return err
	}
	if err := d.expectACK(frame); err != nil {
		return fmt.Errorf("write block %d data: %w", block, err)
	}
	return nil
}

func (d *Dev) expectACK(frame []byte) error {
	resp, bits, err := d.t.CardWrite(commands.PCD_TRANSCEIVE, frame)
	if err != nil {
		return err
	}
	if bits != 4 || len(resp) == 0 || resp[0]&0x0F != piccACK {
		return ErrNAK
	}
	return nil
}

// Halt puts the selected card to sleep. A card acknowledges HLTA by staying
// silent, which the low-level driver reports as an error.
func (d *Dev) Halt() error {
	frame, err := d.withCRC([]byte{commands.PICC_HALT, 0x00})
	if err != nil {
		return err
	}
	if _, bits, err := d.t.CardWrite(commands.PCD_TRANSCEIVE, frame); err == nil && bits > 0 {
		return errors.New("mfrc522: card answered HLTA")
	}
	return nil
}

// StopCrypto leaves the authenticated state. Required before talking to
// another card.
func (d *Dev) StopCrypto() error {
	return d.t.StopCrypto()
}

func (d *Dev) withCRC(data []byte) ([]byte, error) {
	crc, err := d.t.CRC(data)
	if err != nil {
		return nil, fmt.Errorf("mfrc522: crc: %w", err)
	}
	return append(append([]byte(nil), data...), crc...), nil
}
