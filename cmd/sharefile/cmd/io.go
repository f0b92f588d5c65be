package cmd

import "os"

// fileSource wraps *os.File as a transfer.Source: a random-access byte
// source with a known size (spec §3 "Outgoing Transfer.source").
type fileSource struct {
	f    *os.File
	size int64
}

func openFileSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileSource{f: f, size: info.Size()}, nil
}

func (s *fileSource) Size() int64 { return s.size }

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileSource) Close() error { return s.f.Close() }

// fileSink wraps *os.File as a transfer.Sink: the streaming write
// capability the final disk-write implementation lives outside the core
// (spec §1 Non-goals), so this is the CLI's own external collaborator.
type fileSink struct {
	f    *os.File
	path string
}

func createFileSink(path string) (*fileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileSink{f: f, path: path}, nil
}

func (s *fileSink) Write(p []byte) error {
	_, err := s.f.Write(p)
	return err
}

func (s *fileSink) Close() error {
	return s.f.Close()
}

func (s *fileSink) Abort() error {
	_ = s.f.Close()
	return os.Remove(s.path)
}
