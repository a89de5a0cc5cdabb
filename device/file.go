package device

import "os"

// FileDevice is a SectorDevice over an *os.File using positional I/O.
// Writing past the end of the file extends it, which is how dynamic images
// grow.
type FileDevice struct {
	file *os.File
}

// OpenFile opens an existing image file as a sector device.
func OpenFile(path string, readOnly bool) (*FileDevice, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	return &FileDevice{file: file}, nil
}

// CreateFile creates (or truncates) an image file and opens it read-write.
func CreateFile(path string) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &FileDevice{file: file}, nil
}

// NewFileDevice wraps an already-open file. The caller must have opened it
// with the access mode it intends to use.
func NewFileDevice(file *os.File) *FileDevice {
	return &FileDevice{file: file}
}

func (device *FileDevice) ReadSectors(sectorOffset int64, count int, buf []byte) error {
	if err := checkTransfer(sectorOffset, count, buf); err != nil {
		return err
	}
	_, err := device.file.ReadAt(buf[:count*SectorSize], sectorOffset*SectorSize)
	return err
}

func (device *FileDevice) WriteSectors(sectorOffset int64, count int, buf []byte) error {
	if err := checkTransfer(sectorOffset, count, buf); err != nil {
		return err
	}
	_, err := device.file.WriteAt(buf[:count*SectorSize], sectorOffset*SectorSize)
	return err
}

func (device *FileDevice) Flush() error {
	return device.file.Sync()
}

func (device *FileDevice) Size() (int64, error) {
	info, err := device.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (device *FileDevice) Close() error {
	return device.file.Close()
}
