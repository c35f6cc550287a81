//go:build unix

package segment

import (
	"os"

	"golang.org/x/sys/unix"
)

func mmap(file *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmap(mem []byte) error {
	return unix.Munmap(mem)
}
