package internal

import (
	"errors"
	"testing"
)

func TestTrackToSector(t *testing.T) {
	if got := TrackToSector(0, 0, 0, 2, 18); got != 0 {
		t.Errorf("first sector = %d", got)
	}
	if got := TrackToSector(1, 1, 3, 2, 18); got != 57 {
		t.Errorf("track 1 side 1 slot 3 = %d, want 57", got)
	}
	if got := SectorOffset(0x100, 1, 0, 0, 2, 9, 512); got != 0x100+18*512 {
		t.Errorf("offset = %d", got)
	}
}

func TestBufferLimit(t *testing.T) {
	b := NewBuffer(4)
	if _, err := b.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := b.WriteByte(4); err != nil {
		t.Fatalf("Failed to write last byte: %v", err)
	}
	if err := b.WriteByte(5); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
	if err := b.Fill(0, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow on fill, got %v", err)
	}
	if b.Len() != 4 {
		t.Errorf("buffer grew past its limit: %d", b.Len())
	}

	u := NewBuffer(0)
	if err := u.Fill(0xAA, 10000); err != nil || u.Len() != 10000 {
		t.Errorf("unbounded buffer: len %d err %v", u.Len(), err)
	}
}

func TestCRC16(t *testing.T) {
	// ID field of C0 H0 R1 N2 after the A1 A1 A1 FE address mark.
	crc := CRC16(CRCInit, 0xA1, 0xA1, 0xA1, 0xFE)
	if crc != 0xB230 {
		t.Errorf("address mark CRC = %04X, want B230", crc)
	}
	crc = CRC16(crc, 0, 0, 1, 2)
	if crc != 0xCA6F {
		t.Errorf("ID field CRC = %04X, want CA6F", crc)
	}
	if got := CRC16(CRCInit, []byte("123456789")...); got != 0x29B1 {
		t.Errorf("check value = %04X, want 29B1", got)
	}
}
