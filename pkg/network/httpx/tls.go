package httpx

import (
	"crypto/tls"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/proxchat/relay/pkg/logger"
)

// CertWatcher keeps a TLS key pair loaded from the disk
// and reloads it whenever any of the files change.
type CertWatcher struct {
	cert, key string

	mu      sync.RWMutex
	current *tls.Certificate

	watcher *fsnotify.Watcher
	done    chan struct{}
	log     *logger.Logger
}

func NewCertWatcher(cert, key string, log *logger.Logger) (*CertWatcher, error) {
	cw := &CertWatcher{
		cert: filepath.Clean(cert),
		key:  filepath.Clean(key),
		done: make(chan struct{}),
		log:  log,
	}
	if err := cw.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// watch dirs since renewals usually replace files
	for _, dir := range uniq(filepath.Dir(cw.cert), filepath.Dir(cw.key)) {
		if err = watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}
	cw.watcher = watcher
	go cw.watch()
	return cw, nil
}

func (cw *CertWatcher) load() error {
	pair, err := tls.LoadX509KeyPair(cw.cert, cw.key)
	if err != nil {
		return err
	}
	cw.mu.Lock()
	cw.current = &pair
	cw.mu.Unlock()
	return nil
}

func (cw *CertWatcher) watch() {
	defer close(cw.done)
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Clean(ev.Name)
			if name != cw.cert && name != cw.key {
				continue
			}
			// a half-written pair fails here and the old one stays
			if err := cw.load(); err != nil {
				cw.log.Warn().Err(err).Msg("TLS cert reload")
				continue
			}
			cw.log.Info().Str("cert", cw.cert).Msg("TLS cert reloaded")
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.Warn().Err(err).Msg("TLS cert watcher")
		}
	}
}

// GetCertificate implements tls.Config.GetCertificate.
func (cw *CertWatcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.current, nil
}

func (cw *CertWatcher) TLSConfig() *tls.Config {
	return &tls.Config{GetCertificate: cw.GetCertificate, MinVersion: tls.VersionTLS12}
}

func (cw *CertWatcher) Close() error {
	err := cw.watcher.Close()
	<-cw.done
	return err
}

func uniq(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}
