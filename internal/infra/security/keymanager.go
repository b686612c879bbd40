package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
)

// Algorithm names a supported AEAD construction.
type Algorithm string

const (
	AlgorithmAES256GCM        Algorithm = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

// KeySize is the length of every generated key in bytes.
const KeySize = 32

const (
	defaultRotationInterval = 24 * time.Hour
	defaultKeyRetention     = 90 * 24 * time.Hour
	defaultSyncInterval     = time.Minute
	rotationLockTTL         = 30 * time.Second
	seedSize                = 32
	wrapKeyInfo             = "saas-metrics/key-ring-wrap"
)

var (
	errUnsupportedAlgorithm = errors.New("keymanager: unsupported algorithm")
	errRotationInProgress   = domain.ErrStoreUnavailable.WithMessage("key rotation is running on another instance")
)

// ParseAlgorithm normalises textual input into a supported algorithm.
func ParseAlgorithm(value string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(value))) {
	case "", AlgorithmAES256GCM:
		return AlgorithmAES256GCM, nil
	case AlgorithmChaCha20Poly1305:
		return AlgorithmChaCha20Poly1305, nil
	default:
		return "", fmt.Errorf("%w: %s", errUnsupportedAlgorithm, value)
	}
}

// KeyManagerOptions tunes rotation and retention.
type KeyManagerOptions struct {
	Algorithm        Algorithm
	RotationInterval time.Duration
	Retention        time.Duration
	// MaxVersions caps retained versions, current included. Zero disables the cap.
	MaxVersions int
	// InitialKey seeds version 1 so several instances can share it. Random when empty.
	InitialKey []byte
	// Store shares later versions between instances, wrapped under a key derived from InitialKey.
	// It requires InitialKey.
	Store port.KeyRingStore
	// SyncInterval is how often a shared ring is reloaded. Defaults to one minute.
	SyncInterval time.Duration
	// InstanceID names the rotation lock owner. Random when empty.
	InstanceID string
}

type keyEntry struct {
	record domain.KeyRecord
	aead   cipher.AEAD
}

// keyring is immutable once published; rotation swaps the whole pointer.
type keyring struct {
	current int
	entries map[int]*keyEntry
}

// KeyManager encrypts data at rest under versioned keys and rotates them on a timer.
type KeyManager struct {
	opts      KeyManagerOptions
	store     port.KeyRingStore
	wrap      cipher.AEAD
	owner     string
	ring      atomic.Pointer[keyring]
	rotateMu  sync.Mutex
	now       func() time.Time
	random    io.Reader
	logger    *zap.Logger
	metrics   port.AuthMetrics
	publisher port.EventPublisher

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewKeyManager creates version 1 and returns a manager ready for Encrypt and Decrypt.
func NewKeyManager(opts KeyManagerOptions, logger *zap.Logger) (*KeyManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	algorithm, err := ParseAlgorithm(string(opts.Algorithm))
	if err != nil {
		return nil, err
	}
	opts.Algorithm = algorithm
	if opts.RotationInterval <= 0 {
		opts.RotationInterval = defaultRotationInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultKeyRetention
	}
	if opts.MaxVersions < 0 {
		opts.MaxVersions = 0
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = defaultSyncInterval
	}
	if opts.Store != nil && len(opts.InitialKey) == 0 {
		return nil, errors.New("keymanager: a shared key ring requires an initial key")
	}
	owner := strings.TrimSpace(opts.InstanceID)
	if owner == "" {
		owner = uuid.NewString()
	}

	km := &KeyManager{
		opts:    opts,
		store:   opts.Store,
		owner:   owner,
		now:     func() time.Time { return time.Now().UTC() },
		random:  rand.Reader,
		logger:  logger,
		metrics: port.NopAuthMetrics{},
	}

	material := opts.InitialKey
	if len(material) == 0 {
		material, err = km.deriveKey(1)
		if err != nil {
			return nil, err
		}
	} else if len(material) != KeySize {
		return nil, fmt.Errorf("keymanager: initial key must be %d bytes, got %d", KeySize, len(material))
	} else {
		material = append([]byte(nil), material...)
	}

	entry, err := km.newEntry(1, material, km.now())
	if err != nil {
		return nil, err
	}
	if km.store != nil {
		if km.wrap, err = newWrapAEAD(algorithm, material); err != nil {
			return nil, err
		}
	}
	km.ring.Store(&keyring{current: 1, entries: map[int]*keyEntry{1: entry}})
	return km, nil
}

// WithClock overrides the clock used for key ages.
func (m *KeyManager) WithClock(clock func() time.Time) *KeyManager {
	if clock != nil {
		m.now = func() time.Time { return clock().UTC() }
	}
	return m
}

// WithRandom overrides the entropy source, used by tests to force failures.
func (m *KeyManager) WithRandom(r io.Reader) *KeyManager {
	if r != nil {
		m.random = r
	}
	return m
}

// WithMetrics attaches rotation and tamper counters.
func (m *KeyManager) WithMetrics(metrics port.AuthMetrics) *KeyManager {
	if metrics != nil {
		m.metrics = metrics
	}
	return m
}

// WithPublisher attaches the audit publisher for rotation events.
func (m *KeyManager) WithPublisher(publisher port.EventPublisher) *KeyManager {
	m.publisher = publisher
	return m
}

// CurrentVersion returns the version new blobs are sealed under.
func (m *KeyManager) CurrentVersion() int {
	return m.ring.Load().current
}

// Encrypt seals plaintext under the current key with a fresh random nonce.
func (m *KeyManager) Encrypt(plaintext string) (domain.EncryptedBlob, error) {
	ring := m.ring.Load()
	entry := ring.entries[ring.current]

	nonce := make([]byte, entry.aead.NonceSize())
	if _, err := io.ReadFull(m.random, nonce); err != nil {
		return domain.EncryptedBlob{}, domain.ErrInternal.WithMessage("generate nonce").Wrap(err)
	}

	sealed := entry.aead.Seal(nil, nonce, []byte(plaintext), versionAAD(entry.record.Version))
	split := len(sealed) - entry.aead.Overhead()

	return domain.EncryptedBlob{
		CipherText: sealed[:split],
		Nonce:      nonce,
		AuthTag:    sealed[split:],
		KeyVersion: entry.record.Version,
	}, nil
}

// Decrypt opens blob with the key named by its version. It never returns partial plaintext.
func (m *KeyManager) Decrypt(blob domain.EncryptedBlob) (string, error) {
	return m.DecryptContext(context.Background(), blob)
}

// DecryptContext is Decrypt that reloads the shared ring when blob names a version newer than the local current one.
func (m *KeyManager) DecryptContext(ctx context.Context, blob domain.EncryptedBlob) (string, error) {
	ring := m.ring.Load()
	entry, ok := ring.entries[blob.KeyVersion]
	if !ok && m.store != nil && blob.KeyVersion > ring.current {
		if err := m.Sync(ctx); err != nil {
			m.logger.Warn("key ring reload failed", zap.Int("key_version", blob.KeyVersion), zap.Error(err))
		}
		entry, ok = m.ring.Load().entries[blob.KeyVersion]
	}
	if !ok {
		m.metrics.IncTamper(string(domain.CodeKeyNotFound))
		return "", domain.ErrKeyNotFound.WithMessage("encryption key version %d not found", blob.KeyVersion)
	}

	if len(blob.Nonce) != entry.aead.NonceSize() || len(blob.AuthTag) != entry.aead.Overhead() {
		m.metrics.IncTamper(string(domain.CodeAuthenticationTagMismatch))
		return "", domain.ErrAuthenticationTagMismatch.WithMessage("malformed nonce or authentication tag")
	}

	sealed := make([]byte, 0, len(blob.CipherText)+len(blob.AuthTag))
	sealed = append(sealed, blob.CipherText...)
	sealed = append(sealed, blob.AuthTag...)

	plaintext, err := entry.aead.Open(nil, blob.Nonce, sealed, versionAAD(blob.KeyVersion))
	if err != nil {
		m.metrics.IncTamper(string(domain.CodeAuthenticationTagMismatch))
		return "", domain.ErrAuthenticationTagMismatch
	}
	return string(plaintext), nil
}

// Sync loads versions published by peers. It is a no-op without a shared store.
func (m *KeyManager) Sync(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	stored, err := m.store.LoadKeys(ctx)
	if err != nil {
		return fmt.Errorf("keymanager: load key ring: %w", err)
	}

	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()
	return m.merge(stored)
}

// merge installs stored versions unknown locally and adopts the newest as current. Callers hold rotateMu.
func (m *KeyManager) merge(stored []domain.WrappedKey) error {
	old := m.ring.Load()
	now := m.now()
	next := &keyring{current: old.current, entries: make(map[int]*keyEntry, len(old.entries)+len(stored))}
	for v, e := range old.entries {
		next.entries[v] = e
	}

	var errs []error
	added := 0
	for _, w := range stored {
		if _, known := next.entries[w.Version]; known {
			continue
		}
		if w.CreatedAt.Add(m.opts.Retention).Before(now) {
			continue
		}
		material, err := m.unwrapKey(w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entry, err := m.newEntry(w.Version, material, w.CreatedAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next.entries[w.Version] = entry
		if w.Version > next.current {
			next.current = w.Version
		}
		added++
	}
	if added == 0 {
		return errors.Join(errs...)
	}

	m.sweep(next, now)
	m.ring.Store(next)
	m.logger.Info("encryption keys loaded from key ring",
		zap.Int("loaded", added),
		zap.Int("current_version", next.current),
	)
	return errors.Join(errs...)
}

// Rotate installs a freshly derived key as current and purges versions outside retention.
// With a shared store only the holder of the rotation lock rotates, and the new version is published for peers.
func (m *KeyManager) Rotate(ctx context.Context) (domain.KeyVersionInfo, error) {
	return m.rotate(ctx, true)
}

func (m *KeyManager) rotate(ctx context.Context, force bool) (domain.KeyVersionInfo, error) {
	var stored []domain.WrappedKey
	if m.store != nil {
		acquired, err := m.store.AcquireRotationLock(ctx, m.owner, rotationLockTTL)
		if err != nil {
			m.metrics.IncKeyRotation("failure")
			return domain.KeyVersionInfo{}, fmt.Errorf("keymanager: acquire rotation lock: %w", err)
		}
		if !acquired {
			if force {
				return domain.KeyVersionInfo{}, errRotationInProgress
			}
			return domain.KeyVersionInfo{}, nil
		}
		defer m.releaseLock(ctx)

		if stored, err = m.store.LoadKeys(ctx); err != nil {
			m.metrics.IncKeyRotation("failure")
			return domain.KeyVersionInfo{}, fmt.Errorf("keymanager: load key ring: %w", err)
		}
	}

	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	if stored != nil {
		if err := m.merge(stored); err != nil {
			m.logger.Warn("key ring holds unreadable versions", zap.Error(err))
		}
	}

	old := m.ring.Load()
	now := m.now()
	if !force && now.Sub(old.entries[old.current].record.CreatedAt) < m.opts.RotationInterval {
		return domain.KeyVersionInfo{}, nil
	}
	version := old.current + 1

	material, err := m.deriveKey(version)
	if err != nil {
		m.metrics.IncKeyRotation("failure")
		return domain.KeyVersionInfo{}, err
	}
	entry, err := m.newEntry(version, material, now)
	if err != nil {
		m.metrics.IncKeyRotation("failure")
		return domain.KeyVersionInfo{}, err
	}
	if err := m.publishKey(ctx, version, material, now); err != nil {
		m.metrics.IncKeyRotation("failure")
		return domain.KeyVersionInfo{}, err
	}

	next := &keyring{current: version, entries: make(map[int]*keyEntry, len(old.entries)+1)}
	for v, e := range old.entries {
		next.entries[v] = e
	}
	next.entries[version] = entry
	purged := m.sweep(next, now)
	m.ring.Store(next)

	if m.store != nil && len(purged) > 0 {
		if err := m.store.RemoveKeys(ctx, purged); err != nil {
			m.logger.Warn("remove purged versions from key ring", zap.Ints("purged_versions", purged), zap.Error(err))
		}
	}

	m.metrics.IncKeyRotation("success")
	m.logger.Info("encryption key rotated",
		zap.Int("key_version", version),
		zap.Ints("purged_versions", purged),
	)
	m.publishRotation(ctx, version, purged, now)

	return domain.KeyVersionInfo{Version: version, CreatedAt: now, Current: true}, nil
}

func (m *KeyManager) publishKey(ctx context.Context, version int, material []byte, createdAt time.Time) error {
	if m.store == nil {
		return nil
	}
	wrapped, err := m.wrapKey(version, material)
	if err != nil {
		return err
	}
	added, err := m.store.AddKey(ctx, domain.WrappedKey{Version: version, Wrapped: wrapped, CreatedAt: createdAt})
	if err != nil {
		return fmt.Errorf("keymanager: publish version %d: %w", version, err)
	}
	if !added {
		return fmt.Errorf("keymanager: version %d already published", version)
	}
	return nil
}

func (m *KeyManager) releaseLock(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rotationLockTTL)
	defer cancel()
	if err := m.store.ReleaseRotationLock(releaseCtx, m.owner); err != nil {
		m.logger.Warn("release rotation lock failed", zap.Error(err))
	}
}

// Purge drops versions whose retention window has elapsed. The current version is always kept.
func (m *KeyManager) Purge() []int {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	old := m.ring.Load()
	next := &keyring{current: old.current, entries: make(map[int]*keyEntry, len(old.entries))}
	for v, e := range old.entries {
		next.entries[v] = e
	}
	purged := m.sweep(next, m.now())
	if len(purged) == 0 {
		return nil
	}
	m.ring.Store(next)
	m.logger.Info("encryption keys purged", zap.Ints("purged_versions", purged))
	return purged
}

// Versions lists retained key versions, oldest first.
func (m *KeyManager) Versions() []domain.KeyVersionInfo {
	ring := m.ring.Load()
	infos := make([]domain.KeyVersionInfo, 0, len(ring.entries))
	for v, e := range ring.entries {
		infos = append(infos, domain.KeyVersionInfo{
			Version:   v,
			CreatedAt: e.record.CreatedAt,
			Current:   v == ring.current,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Version < infos[j].Version })
	return infos
}

// Start launches the rotation loop. It is a no-op when the loop is already running.
func (m *KeyManager) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx, m.done)
}

// Stop cancels the rotation loop and waits for it to exit.
func (m *KeyManager) Stop() {
	m.lifecycleMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *KeyManager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := m.opts.RotationInterval
	if m.store != nil && m.opts.SyncInterval < interval {
		interval = m.opts.SyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick rotates unconditionally for a private ring. A shared ring is reloaded and rotated only once its current key is due.
func (m *KeyManager) tick(ctx context.Context) {
	if m.store == nil {
		if _, err := m.Rotate(ctx); err != nil {
			m.logger.Error("encryption key rotation failed, retrying next tick",
				zap.Int("current_version", m.CurrentVersion()),
				zap.Error(err),
			)
		}
		return
	}

	if err := m.Sync(ctx); err != nil {
		m.logger.Warn("key ring reload failed", zap.Error(err))
	}
	if _, err := m.rotate(ctx, false); err != nil {
		m.logger.Error("encryption key rotation failed, retrying next tick",
			zap.Int("current_version", m.CurrentVersion()),
			zap.Error(err),
		)
	}
}

// sweep mutates an unpublished ring and returns the purged versions in ascending order.
func (m *KeyManager) sweep(ring *keyring, now time.Time) []int {
	var purged []int
	for v, e := range ring.entries {
		if v == ring.current {
			continue
		}
		if e.record.CreatedAt.Add(m.opts.Retention).Before(now) {
			purged = append(purged, v)
		}
	}

	if m.opts.MaxVersions > 0 {
		remaining := make([]int, 0, len(ring.entries))
		for v := range ring.entries {
			if v != ring.current && !containsVersion(purged, v) {
				remaining = append(remaining, v)
			}
		}
		sort.Ints(remaining)
		excess := len(remaining) + 1 - m.opts.MaxVersions
		for i := 0; i < excess && i < len(remaining); i++ {
			purged = append(purged, remaining[i])
		}
	}

	sort.Ints(purged)
	for _, v := range purged {
		delete(ring.entries, v)
	}
	return purged
}

// deriveKey expands fresh random seed material through HKDF-SHA256; no key depends on its predecessor.
func (m *KeyManager) deriveKey(version int) ([]byte, error) {
	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(m.random, seed); err != nil {
		return nil, fmt.Errorf("keymanager: read seed: %w", err)
	}
	salt := make([]byte, sha256.Size)
	if _, err := io.ReadFull(m.random, salt); err != nil {
		return nil, fmt.Errorf("keymanager: read salt: %w", err)
	}

	info := []byte(fmt.Sprintf("saas-metrics/refresh-token-key/v%d", version))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, salt, info), key); err != nil {
		return nil, fmt.Errorf("keymanager: expand key: %w", err)
	}
	return key, nil
}

func (m *KeyManager) newEntry(version int, material []byte, createdAt time.Time) (*keyEntry, error) {
	aead, err := newAEAD(m.opts.Algorithm, material)
	if err != nil {
		return nil, err
	}
	return &keyEntry{
		record: domain.KeyRecord{Version: version, Material: material, CreatedAt: createdAt},
		aead:   aead,
	}, nil
}

// wrapKey seals material under the ring wrapping key as nonce || ciphertext || tag.
func (m *KeyManager) wrapKey(version int, material []byte) ([]byte, error) {
	nonce := make([]byte, m.wrap.NonceSize(), m.wrap.NonceSize()+len(material)+m.wrap.Overhead())
	if _, err := io.ReadFull(m.random, nonce); err != nil {
		return nil, fmt.Errorf("keymanager: wrap nonce: %w", err)
	}
	return m.wrap.Seal(nonce, nonce, material, versionAAD(version)), nil
}

func (m *KeyManager) unwrapKey(w domain.WrappedKey) ([]byte, error) {
	size := m.wrap.NonceSize()
	if len(w.Wrapped) < size+m.wrap.Overhead() {
		return nil, fmt.Errorf("keymanager: wrapped version %d is truncated", w.Version)
	}
	material, err := m.wrap.Open(nil, w.Wrapped[:size], w.Wrapped[size:], versionAAD(w.Version))
	if err != nil {
		return nil, fmt.Errorf("keymanager: unwrap version %d: %w", w.Version, err)
	}
	if len(material) != KeySize {
		return nil, fmt.Errorf("keymanager: version %d has %d byte key", w.Version, len(material))
	}
	return material, nil
}

func (m *KeyManager) publishRotation(ctx context.Context, version int, purged []int, at time.Time) {
	if m.publisher == nil {
		return
	}
	event := domain.KeyRotatedEvent{
		EventID:        uuid.NewString(),
		NewVersion:     version,
		PurgedVersions: purged,
		At:             at,
	}
	if err := m.publisher.PublishKeyRotated(ctx, event); err != nil {
		m.logger.Warn("failed to publish key rotation event", zap.Int("key_version", version), zap.Error(err))
	}
}

func newAEAD(algorithm Algorithm, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("keymanager: chacha20poly1305: %w", err)
		}
		return aead, nil
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("keymanager: aes: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("keymanager: gcm: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedAlgorithm, algorithm)
	}
}

// newWrapAEAD derives the ring wrapping key from the shared initial key so it never equals a data key.
func newWrapAEAD(algorithm Algorithm, initial []byte) (cipher.AEAD, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, initial, nil, []byte(wrapKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("keymanager: derive wrapping key: %w", err)
	}
	return newAEAD(algorithm, key)
}

// versionAAD binds the ciphertext to its key version so the version field cannot be swapped.
func versionAAD(version int) []byte {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, uint64(version))
	return aad
}

func containsVersion(versions []int, v int) bool {
	for _, candidate := range versions {
		if candidate == v {
			return true
		}
	}
	return false
}

var _ port.Encryptor = (*KeyManager)(nil)
