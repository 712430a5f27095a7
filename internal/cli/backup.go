package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/natefinch/atomic"
)

// snappyMagic opens every stream in the snappy framing format.
var snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

const backupFilePerm = 0o600

var errWriteAborted = errors.New("backup write aborted")

// openBackup opens path ("-" reads stdin) and transparently decompresses
// snappy framed input.
func openBackup(path string, stdin io.Reader) (io.Reader, func() error, error) {
	var src io.Reader

	closeFn := func() error { return nil }

	if path == "-" {
		if stdin == nil {
			return nil, nil, errors.New("no stdin to read backup from")
		}

		src = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open backup: %w", err)
		}

		src, closeFn = f, f.Close
	}

	br := bufio.NewReader(src)

	head, _ := br.Peek(len(snappyMagic))
	if bytes.Equal(head, snappyMagic) {
		return snappy.NewReader(br), closeFn, nil
	}

	return br, closeFn, nil
}

// writeBackup streams the output of write to path, or to stdout when path is
// empty or "-". Files are replaced atomically, so a failed export never leaves
// a truncated backup behind.
func writeBackup(path string, stdout io.Writer, compress bool, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return encodeBackup(stdout, compress, write)
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		err := encodeBackup(pw, compress, write)
		_ = pw.CloseWithError(err)
		done <- err
	}()

	writeErr := atomic.WriteFile(path, pr)

	// Unblocks the encoder if the file side gave up early.
	_ = pr.CloseWithError(errWriteAborted)

	encodeErr := <-done
	if encodeErr != nil && !errors.Is(encodeErr, errWriteAborted) {
		return encodeErr
	}

	if writeErr != nil {
		return fmt.Errorf("write backup: %w", writeErr)
	}

	err := os.Chmod(path, backupFilePerm)
	if err != nil {
		return fmt.Errorf("set backup permissions: %w", err)
	}

	return nil
}

func encodeBackup(w io.Writer, compress bool, write func(io.Writer) error) error {
	if !compress {
		return write(w)
	}

	sw := snappy.NewBufferedWriter(w)

	err := write(sw)
	if err != nil {
		_ = sw.Close()

		return err
	}

	err = sw.Close()
	if err != nil {
		return fmt.Errorf("compress backup: %w", err)
	}

	return nil
}
