package tagstore

import "fmt"

// BlocksPerSector is the sector size of the small sectors of MIFARE Classic
// cards. The last block of each sector is its trailer.
const BlocksPerSector = 4

// Layout maps fixture slots to data blocks. Slots are packed BlockCount per
// sector starting at DataBlockAddr, so trailers are never used for data.
type Layout struct {
	DataBlockAddr int
	BlockCount    int
	MaxSlots      int
}

// DefaultLayout starts at sector 1 and fits 15 fixtures on a 1K card.
var DefaultLayout = Layout{DataBlockAddr: 4, BlockCount: 3, MaxSlots: 15}

// Validate checks that the layout never lands on a trailer or block 0.
func (l Layout) Validate() error {
	if l.DataBlockAddr <= 0 || l.DataBlockAddr%BlocksPerSector != 0 {
		return fmt.Errorf("tag layout: data block %d must start a sector after sector 0", l.DataBlockAddr)
	}
	if l.BlockCount < 1 || l.BlockCount >= BlocksPerSector {
		return fmt.Errorf("tag layout: block count %d must be 1..%d", l.BlockCount, BlocksPerSector-1)
	}
	if l.MaxSlots < 1 {
		return fmt.Errorf("tag layout: max slots must be positive")
	}
	last := l.DataBlockAddr + ((l.MaxSlots-1)/l.BlockCount)*BlocksPerSector + (l.MaxSlots-1)%l.BlockCount
	if last > 0xFF {
		return fmt.Errorf("tag layout: %d slots overflow the block address space", l.MaxSlots)
	}
	return nil
}

// BlockForSlot returns the data block of slot.
func (l Layout) BlockForSlot(slot int) (byte, error) {
	if slot < 0 || slot >= l.MaxSlots {
		return 0, fmt.Errorf("tag slot %d out of range 0..%d", slot, l.MaxSlots-1)
	}
	addr := l.DataBlockAddr + (slot/l.BlockCount)*BlocksPerSector + slot%l.BlockCount
	return byte(addr), nil
}

// TrailerBlock is the sector trailer guarding addr.
func TrailerBlock(addr byte) byte {
	return (addr/BlocksPerSector)*BlocksPerSector + BlocksPerSector - 1
}

// IsTrailer reports whether addr is a sector trailer.
func IsTrailer(addr byte) bool {
	return addr%BlocksPerSector == BlocksPerSector-1
}
