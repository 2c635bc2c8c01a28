// Package disk defines the on-disk layout of a1fs: the superblock, inode,
// extent, and directory entry records, plus the little-endian codec used to
// read and write them from a memory-mapped image.
//
// Field ordering here is part of the on-disk format; any change to a
// struct's layout is a format version change.
package disk

import "encoding/binary"

// BlockSize is the fixed unit of allocation and I/O, in bytes.
const BlockSize = 4096

// NameMax is the longest a single path component's name may be.
const NameMax = 252

// PathMax is the longest an absolute path may be, including the trailing nul.
const PathMax = 4096

// MaxExtentsPerInode bounds how many extents a single inode's extent block
// can hold; see MaxExtentsPerBlock below, they're equal by construction.
const MaxExtentsPerInode = 512

// Magic is the recognition value written by the formatter and checked by the
// driver before it will mount an image.
const Magic uint32 = 0xA1F50001

// RootInode is the fixed inode number of the file system root.
const RootInode uint32 = 0

// Mode bits a1fs cares about. ModeDir has the value of Go's os.ModeDir (not
// Unix S_IFDIR), and ModePerm is the low nine permission bits shared by
// os.FileMode and Unix modes, so callers can pass os.FileMode straight
// through for the permission bits.
const (
	ModeDir  uint32 = 1 << 31
	ModeFile uint32 = 1 << 30
	ModePerm uint32 = 0777
)

// Superblock is the first block of the image. Everything past the fields
// below is unused padding out to BlockSize.
type Superblock struct {
	Magic            uint32
	_                uint32 // alignment padding
	ImageSize        uint64
	InodeCount       uint32
	AvailableInodes  uint32
	InodeBitmapLen   uint32 // blocks
	DataBitmapLen    uint32 // blocks
	InodeTableLen    uint32 // blocks
	DataRegionBlocks uint32 // total blocks in the data region
	AvailableBlocks  uint32
	RootInode        uint32
}

// SuperblockSize is the encoded size in bytes.
const SuperblockSize = 4 + 4 + 8 + 4*8

// Inode is one fixed-size record in the inode table.
type Inode struct {
	Mode          uint32
	LinkCount     uint32
	Size          uint64
	MtimeSec      int64
	MtimeNsec     int64
	ExtentCount   uint32
	DirEntryCount uint32
	ExtentBlock   uint32 // data-block index holding this inode's extent array; valid iff ExtentCount > 0
	_             uint32 // alignment padding
}

// InodeSize is the encoded size in bytes.
const InodeSize = 4 + 4 + 8 + 8 + 8 + 4 + 4 + 4 + 4

// IsDir reports whether the inode is a directory.
func (ino *Inode) IsDir() bool { return ino.Mode&ModeDir != 0 }

// IsFile reports whether the inode is a regular file.
func (ino *Inode) IsFile() bool { return ino.Mode&ModeFile != 0 }

// Extent is one contiguous run of data blocks.
type Extent struct {
	Start uint32
	Count uint32
}

// ExtentSize is the encoded size in bytes.
const ExtentSize = 4 + 4

// MaxExtentsPerBlock is how many Extent records fit in one data block.
const MaxExtentsPerBlock = BlockSize / ExtentSize

// Dentry is one fixed-size directory entry.
type Dentry struct {
	Inode uint32
	Name  [NameMax]byte
}

// DentrySize is the encoded size in bytes.
const DentrySize = 4 + NameMax

// DentriesPerBlock is how many directory entries fit in one data block.
const DentriesPerBlock = BlockSize / DentrySize

func init() {
	// These constants describe the wire format; if the struct layout above
	// ever drifts from the hand-computed sizes, every block-packing
	// calculation in the rest of the tree silently breaks. Catch it at
	// package init instead.
	if MaxExtentsPerBlock != MaxExtentsPerInode {
		panic("disk: MaxExtentsPerBlock must equal MaxExtentsPerInode")
	}
	if binary.Size(Superblock{}) != SuperblockSize || binary.Size(Inode{}) != InodeSize ||
		binary.Size(Extent{}) != ExtentSize || binary.Size(Dentry{}) != DentrySize {
		panic("disk: encoded struct sizes differ from the hand-computed size constants")
	}
}
