package disk

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"
	"github.com/xaionaro-go/bytesextra"
)

// WriteSuperblock serializes sb into the first SuperblockSize bytes of block
// by streaming it through bytewriter, the same way every other fixed-layout
// struct in this package is encoded.
func WriteSuperblock(block []byte, sb *Superblock) error {
	w := bytewriter.New(block)
	return binary.Write(w, binary.LittleEndian, sb)
}

// ReadSuperblock decodes a Superblock from the first SuperblockSize bytes of
// block.
func ReadSuperblock(block []byte) (*Superblock, error) {
	r := bytesextra.NewReadWriteSeeker(block)
	sb := &Superblock{}
	if err := binary.Read(r, binary.LittleEndian, sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// WriteInode serializes ino into the first InodeSize bytes of slot.
func WriteInode(slot []byte, ino *Inode) error {
	w := bytewriter.New(slot)
	return binary.Write(w, binary.LittleEndian, ino)
}

// ReadInode decodes an Inode from the first InodeSize bytes of slot.
func ReadInode(slot []byte) (*Inode, error) {
	r := bytesextra.NewReadWriteSeeker(slot)
	ino := &Inode{}
	if err := binary.Read(r, binary.LittleEndian, ino); err != nil {
		return nil, err
	}
	return ino, nil
}

// WriteExtent serializes ext into the first ExtentSize bytes of slot.
func WriteExtent(slot []byte, ext *Extent) error {
	w := bytewriter.New(slot)
	return binary.Write(w, binary.LittleEndian, ext)
}

// ReadExtent decodes an Extent from the first ExtentSize bytes of slot.
func ReadExtent(slot []byte) (*Extent, error) {
	r := bytesextra.NewReadWriteSeeker(slot)
	ext := &Extent{}
	if err := binary.Read(r, binary.LittleEndian, ext); err != nil {
		return nil, err
	}
	return ext, nil
}

// WriteDentry serializes d into the first DentrySize bytes of slot.
func WriteDentry(slot []byte, d *Dentry) error {
	w := bytewriter.New(slot)
	return binary.Write(w, binary.LittleEndian, d)
}

// ReadDentry decodes a Dentry from the first DentrySize bytes of slot.
func ReadDentry(slot []byte) (*Dentry, error) {
	r := bytesextra.NewReadWriteSeeker(slot)
	d := &Dentry{}
	if err := binary.Read(r, binary.LittleEndian, d); err != nil {
		return nil, err
	}
	return d, nil
}

// NameString returns the dentry's name with its trailing nul padding
// stripped.
func (d *Dentry) NameString() string {
	for i, b := range d.Name {
		if b == 0 {
			return string(d.Name[:i])
		}
	}
	return string(d.Name[:])
}

// SetName copies name into the fixed-size Name field, nul-padding the rest.
// It returns false if name does not fit.
func (d *Dentry) SetName(name string) bool {
	if len(name) > NameMax {
		return false
	}
	var buf [NameMax]byte
	copy(buf[:], name)
	d.Name = buf
	return true
}
