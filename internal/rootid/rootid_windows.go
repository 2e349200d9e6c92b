// +build windows

package rootid

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// Identity is a directory's volume serial number plus file index, the
// Windows analog of a (device, inode) pair.
type Identity struct {
	VolumeSerialNumber uint32
	FileIndex          uint64
}

// Equal reports whether two identities refer to the same underlying
// filesystem object.
func (i Identity) Equal(other Identity) bool {
	return i.VolumeSerialNumber == other.VolumeSerialNumber && i.FileIndex == other.FileIndex
}

// Probe opens path and returns its current Identity via
// GetFileInformationByHandle.
func Probe(path string) (Identity, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Identity{}, errors.Wrap(err, "unable to convert path")
	}

	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "unable to open %s", path)
	}
	defer windows.CloseHandle(handle)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(handle, &info); err != nil {
		return Identity{}, errors.Wrapf(err, "unable to query file information for %s", path)
	}

	return Identity{
		VolumeSerialNumber: info.VolumeSerialNumber,
		FileIndex:          uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
	}, nil
}

// Changed reports whether path's current on-disk identity differs from
// previous.
func Changed(path string, previous Identity) bool {
	current, err := Probe(path)
	if err != nil {
		return true
	}
	return !current.Equal(previous)
}
