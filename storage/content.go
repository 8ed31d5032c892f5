package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/WiesHerd/contractpipeline/pkg/retry"
)

// MetadataVersion tags every metadata record written by this store.
const MetadataVersion = "1.0"

const (
	DefaultContractTTL = 7 * 24 * time.Hour
	DefaultGenericTTL  = time.Hour
)

// StoreRequest is one artifact to persist.
type StoreRequest struct {
	ContractID  string
	FileName    string
	Data        []byte
	ContentType string
	GeneratedAt time.Time
	Status      model.ContractStatus
	Provider    model.ProviderSnapshot
	Template    model.TemplateSnapshot
}

func (r StoreRequest) locator() Locator {
	return Locator{ContractID: r.ContractID, GeneratedAt: r.GeneratedAt, FileName: r.FileName}
}

type StoreResult struct {
	PermanentURL string
	FileHash     string
	FileSize     int64
	Key          string
	// Tier names the tier holding the artifact.
	Tier     string
	Metadata model.ArtifactMetadata
	// Warnings are non-fatal problems after the artifact itself was written.
	Warnings []string
}

// ContentStore writes artifacts once under timestamped keys and resolves them
// back through an ordered tier list.
type ContentStore struct {
	immutable   ObjectStore
	secondary   ObjectStore
	policy      retry.Policy
	contractTTL time.Duration
	genericTTL  time.Duration
}

type Option func(*ContentStore)

// WithSecondary adds a tier written and read after the immutable tier.
func WithSecondary(s ObjectStore) Option {
	return func(c *ContentStore) { c.secondary = s }
}

func WithRetry(p retry.Policy) Option {
	return func(c *ContentStore) { c.policy = p }
}

func WithTTLs(contract, generic time.Duration) Option {
	return func(c *ContentStore) {
		if contract > 0 {
			c.contractTTL = contract
		}
		if generic > 0 {
			c.genericTTL = generic
		}
	}
}

func NewContentStore(immutable ObjectStore, opts ...Option) *ContentStore {
	c := &ContentStore{
		immutable:   immutable,
		policy:      retry.NoRetry,
		contractTTL: DefaultContractTTL,
		genericTTL:  DefaultGenericTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Missing and write-once conflicts are answers, not transient failures.
	retryable := c.policy.Retryable
	if retryable == nil {
		retryable = retry.DefaultRetryable
	}
	c.policy.Retryable = func(err error) bool {
		if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrAlreadyExists) {
			return false
		}
		return retryable(err)
	}
	return c
}

// Tiers returns the retrieval order: immutable first, then the secondary mirror.
func (c *ContentStore) Tiers() []Tier {
	tiers := []Tier{{Name: "immutable", Store: c.immutable, Key: ImmutableKey}}
	if c.secondary != nil {
		tiers = append(tiers, Tier{Name: "secondary", Store: c.secondary, Key: SecondaryKey})
	}
	return tiers
}

// Hash is the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store hashes the artifact and writes it once under its timestamped key on
// the first tier that accepts it, immutable first. The link is signed by the
// tier that holds the artifact. ErrWriteFailed means no tier took it, or the
// key was already written. Metadata and mirror failures become warnings.
func (c *ContentStore) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	loc := req.locator()
	hash := Hash(req.Data)
	objMeta := ObjectMeta{
		ContentType: req.ContentType,
		Hash:        hash,
		Attributes:  map[string]string{"contract-id": req.ContractID},
	}

	tiers := c.Tiers()
	var (
		res     *StoreResult
		holder  int
		tierErr []error
	)
	for i, tier := range tiers {
		key := tier.Key(loc)
		url, err := c.writeOnce(ctx, tier.Store, key, req.Data, objMeta)
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s: %w", ErrWriteFailed, key, ErrAlreadyExists)
		}
		if err != nil {
			logger.Warn(ctx, "tier write failed", "tier", tier.Name, "key", key, "error", err)
			tierErr = append(tierErr, fmt.Errorf("%s: %w", tier.Name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		holder = i
		res = &StoreResult{
			PermanentURL: url,
			FileHash:     hash,
			FileSize:     int64(len(req.Data)),
			Key:          key,
			Tier:         tier.Name,
		}
		break
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, errors.Join(tierErr...))
	}
	if holder > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("stored on %s tier only: %v", res.Tier, errors.Join(tierErr...)))
	}

	res.Metadata = model.ArtifactMetadata{
		ContractID:   req.ContractID,
		Provider:     req.Provider,
		Template:     req.Template,
		GeneratedAt:  FormatGeneratedAt(req.GeneratedAt),
		Status:       req.Status,
		FileName:     req.FileName,
		FileSize:     res.FileSize,
		FileHash:     hash,
		PermanentURL: res.PermanentURL,
		Version:      MetadataVersion,
	}
	if err := c.writeMetadata(ctx, tiers[holder].Store, loc, res.Metadata); err != nil {
		logger.Warn(ctx, "metadata write failed", "key", MetadataKey(loc), "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("metadata record not written: %v", err))
	}

	for _, mirror := range tiers[holder+1:] {
		key := mirror.Key(loc)
		if err := c.policy.Do(ctx, func(ctx context.Context) error {
			return mirror.Store.Put(ctx, key, req.Data, objMeta)
		}); err != nil {
			logger.Warn(ctx, "mirror write failed", "tier", mirror.Name, "key", key, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s copy not written: %v", mirror.Name, err))
		}
	}

	logger.Info(ctx, "artifact stored", "tier", res.Tier, "key", res.Key, "hash", hash, "size", res.FileSize)
	return res, nil
}

// writeOnce puts data under a key that must not exist yet and signs a
// contract download link for it.
func (c *ContentStore) writeOnce(ctx context.Context, store ObjectStore, key string, data []byte, meta ObjectMeta) (string, error) {
	exists, err := retry.Value(ctx, c.policy, func(ctx context.Context) (bool, error) {
		return store.Exists(ctx, key)
	})
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%s: %w", key, ErrAlreadyExists)
	}
	if err := c.policy.Do(ctx, func(ctx context.Context) error {
		return store.Put(ctx, key, data, meta)
	}); err != nil {
		return "", err
	}
	url, err := retry.Value(ctx, c.policy, func(ctx context.Context) (string, error) {
		return store.SignedURL(ctx, key, c.contractTTL)
	})
	if err != nil {
		return "", fmt.Errorf("signing %s: %w", key, err)
	}
	return url, nil
}

func (c *ContentStore) writeMetadata(ctx context.Context, store ObjectStore, loc Locator, meta model.ArtifactMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	key := MetadataKey(loc)
	return c.policy.Do(ctx, func(ctx context.Context) error {
		ok, err := store.Exists(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%s: %w", key, ErrAlreadyExists)
		}
		return store.Put(ctx, key, data, ObjectMeta{ContentType: "application/json"})
	})
}

// Retrieve returns a fresh contract download link from the first tier that can
// serve one. When every tier fails, an existence check separates ErrNotPersisted
// (regenerate) from ErrStorageAccess (retry).
func (c *ContentStore) Retrieve(ctx context.Context, loc Locator) (string, error) {
	return c.retrieve(ctx, loc, c.contractTTL)
}

// GenericURL is Retrieve with the short-lived link policy.
func (c *ContentStore) GenericURL(ctx context.Context, loc Locator) (string, error) {
	return c.retrieve(ctx, loc, c.genericTTL)
}

func (c *ContentStore) retrieve(ctx context.Context, loc Locator, ttl time.Duration) (string, error) {
	tiers := c.Tiers()
	errs := make([]error, 0, len(tiers))

	for _, tier := range tiers {
		key := tier.Key(loc)
		url, err := retry.Value(ctx, c.policy, func(ctx context.Context) (string, error) {
			return tier.Store.SignedURL(ctx, key, ttl)
		})
		if err == nil {
			if len(errs) > 0 {
				logger.Info(ctx, "contract served from fallback tier", "tier", tier.Name, "key", key)
			}
			return url, nil
		}
		logger.Warn(ctx, "tier retrieval failed", "tier", tier.Name, "key", key, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", c.classifyMiss(ctx, loc, tiers, errors.Join(errs...))
}

// classifyMiss decides which failure the caller sees. Existence that cannot be
// determined counts as an access problem.
func (c *ContentStore) classifyMiss(ctx context.Context, loc Locator, tiers []Tier, cause error) error {
	var checkErr error
	for _, tier := range tiers {
		key := tier.Key(loc)
		ok, err := retry.Value(ctx, c.policy, func(ctx context.Context) (bool, error) {
			return tier.Store.Exists(ctx, key)
		})
		if err != nil {
			checkErr = errors.Join(checkErr, fmt.Errorf("%s: %w", tier.Name, err))
			continue
		}
		if ok {
			return fmt.Errorf("%w: %s holds %s: %v", ErrStorageAccess, tier.Name, loc.FileName, cause)
		}
	}
	if checkErr != nil {
		return fmt.Errorf("%w: existence unknown: %v", ErrStorageAccess, checkErr)
	}
	return fmt.Errorf("%w: %s", ErrNotPersisted, loc.ContractID)
}

// Metadata reads the metadata record written next to an artifact, from the
// first tier that has it.
func (c *ContentStore) Metadata(ctx context.Context, loc Locator) (*model.ArtifactMetadata, error) {
	data, err := c.read(ctx, func(Tier) string { return MetadataKey(loc) })
	if err != nil {
		return nil, err
	}

	var meta model.ArtifactMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}

// Verify re-reads an artifact and checks it against its recorded digest.
func (c *ContentStore) Verify(ctx context.Context, loc Locator) (bool, error) {
	meta, err := c.Metadata(ctx, loc)
	if err != nil {
		return false, err
	}
	data, err := c.read(ctx, func(t Tier) string { return t.Key(loc) })
	if err != nil {
		return false, err
	}
	return Hash(data) == meta.FileHash, nil
}

// read returns the first copy found walking the tiers. ErrNotPersisted means
// every tier answered "missing"; any other failure is ErrStorageAccess.
func (c *ContentStore) read(ctx context.Context, key func(Tier) string) ([]byte, error) {
	var (
		errs    []error
		missing = true
	)
	for _, tier := range c.Tiers() {
		k := key(tier)
		data, err := retry.Value(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
			return tier.Store.Get(ctx, k)
		})
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrObjectNotFound) {
			missing = false
		}
		errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
	}
	if missing {
		return nil, fmt.Errorf("%w: %v", ErrNotPersisted, errors.Join(errs...))
	}
	return nil, fmt.Errorf("%w: %v", ErrStorageAccess, errors.Join(errs...))
}
