package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/sorenh/backupd/internal/model"
)

type sftpBackend struct {
	cfg    model.StorageConfig
	client *sftp.Client
	conn   *ssh.Client
}

func newSFTP(cfg model.StorageConfig) (Backend, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sftp backend: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.RemotePath == "" {
		cfg.RemotePath = "."
	}
	return &sftpBackend{cfg: cfg}, nil
}

// connect establishes the SSH session on first use and keeps it for the
// lifetime of the backend.
func (b *sftpBackend) connect() (*sftp.Client, error) {
	if b.client != nil {
		return b.client, nil
	}

	var auth []ssh.AuthMethod
	if b.cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(b.cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse sftp private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if b.cfg.Password != "" {
		auth = append(auth, ssh.Password(b.cfg.Password))
	}

	addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(b.cfg.Port))
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            b.cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, ErrUnreachable)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp session %s: %w", addr, ErrUnreachable)
	}

	b.conn = conn
	b.client = client
	return client, nil
}

func (b *sftpBackend) abs(p string) string {
	return path.Join(b.cfg.RemotePath, p)
}

func (b *sftpBackend) Put(ctx context.Context, r io.Reader, p string) (PutResult, error) {
	client, err := b.connect()
	if err != nil {
		return PutResult{}, err
	}

	dst := b.abs(p)
	if err := client.MkdirAll(path.Dir(dst)); err != nil {
		return PutResult{}, fmt.Errorf("mkdir %s: %w", path.Dir(p), err)
	}

	// Create truncates, so a retried Put overwrites rather than appends.
	f, err := client.Create(dst)
	if err != nil {
		return PutResult{}, fmt.Errorf("create %s: %w", p, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return PutResult{}, fmt.Errorf("write %s: %w", p, err)
	}

	return PutResult{BytesWritten: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

func (b *sftpBackend) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	client, err := b.connect()
	if err != nil {
		return nil, err
	}

	f, err := client.Open(b.abs(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, sftp.ErrSSHFxNoSuchFile) {
			return nil, fmt.Errorf("get %s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return f, nil
}

func (b *sftpBackend) Delete(ctx context.Context, prefix string) ([]string, error) {
	client, err := b.connect()
	if err != nil {
		return nil, err
	}

	root := b.abs(prefix)
	info, err := client.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, sftp.ErrSSHFxNoSuchFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", prefix, err)
	}

	if !info.IsDir() {
		if err := client.Remove(root); err != nil {
			return nil, fmt.Errorf("remove %s: %w", prefix, err)
		}
		return []string{prefix}, nil
	}

	var deleted []string
	walker := client.Walk(root)
	for walker.Step() {
		if walker.Err() != nil {
			continue
		}
		if walker.Stat().IsDir() {
			continue
		}
		deleted = append(deleted, strings.TrimPrefix(walker.Path(), b.cfg.RemotePath+"/"))
	}
	if err := client.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("remove %s: %w", prefix, err)
	}
	return deleted, nil
}

func (b *sftpBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	client, err := b.connect()
	if err != nil {
		return nil, err
	}

	root := b.abs(prefix)
	var entries []Entry
	walker := client.Walk(root)
	for walker.Step() {
		if walker.Err() != nil {
			if errors.Is(walker.Err(), fs.ErrNotExist) || errors.Is(walker.Err(), sftp.ErrSSHFxNoSuchFile) {
				return nil, nil
			}
			return nil, fmt.Errorf("walk %s: %w", prefix, walker.Err())
		}
		info := walker.Stat()
		if info.IsDir() {
			continue
		}
		entries = append(entries, Entry{
			Path:      strings.TrimPrefix(walker.Path(), b.cfg.RemotePath+"/"),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return entries, nil
}

func (b *sftpBackend) Check(ctx context.Context) (CheckResult, error) {
	start := time.Now()
	client, err := b.connect()
	if err != nil {
		return CheckResult{Status: model.StorageUnreachable, Latency: time.Since(start)}, err
	}

	if err := client.MkdirAll(b.cfg.RemotePath); err != nil {
		return CheckResult{Status: model.StorageUnreachable, Latency: time.Since(start)},
			fmt.Errorf("check %s: %w", b.cfg.RemotePath, ErrUnreachable)
	}

	res := CheckResult{Status: model.StorageHealthy, Latency: time.Since(start)}

	// StatVFS is an extension; not every server implements it.
	if st, err := client.StatVFS(b.cfg.RemotePath); err == nil {
		avail := int64(st.Bavail) * int64(st.Bsize)
		availGB := float64(avail) / (1 << 30)
		res.AvailableSpaceGB = &availGB
		if avail < localMinFreeBytes {
			res.Status = model.StorageFull
			return res, fmt.Errorf("check %s: %w", b.cfg.RemotePath, ErrCapacity)
		}
	}
	return res, nil
}
