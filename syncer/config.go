package syncer

import "fmt"

// Deletion policies.
const (
	DeleteSoft = "soft"
	DeleteHard = "hard"
)

// Config is the sync configuration one collection target consumes.
type Config struct {
	// IdentityKey names the record field holding the application-supplied
	// identity, unique within one collection target. Required.
	IdentityKey string `yaml:"identity_key"`

	// DeletionPolicy selects how ApplyDeletion treats confirmed deletions:
	// "soft" flags documents in place, "hard" removes them. Default: soft.
	DeletionPolicy string `yaml:"deletion_policy"`

	// SoftDeleteFlag / SoftDeleteTimeKey name the bookkeeping fields soft
	// deletion writes. Defaults: "is_deleted", "deleted_at".
	SoftDeleteFlag    string `yaml:"soft_delete_flag"`
	SoftDeleteTimeKey string `yaml:"soft_delete_time_key"`

	// Session stop thresholds. Zero disables a threshold.
	StopAfterConsecutiveKnown int `yaml:"stop_after_consecutive_known"`
	StopAfterNoChangeBatches  int `yaml:"stop_after_no_change_batches"`
	MaxNewItems               int `yaml:"max_new_items"`

	// FingerprintFields is an explicit allow-list; empty means all fields
	// minus identity/fingerprint bookkeeping keys.
	FingerprintFields []string `yaml:"fingerprint_fields"`

	// FingerprintKey names the document field the digest is stored under.
	// Default: "__fp".
	FingerprintKey string `yaml:"fingerprint_key"`

	// FingerprintAlgorithm is "sha1" or "sha256". Default: sha1.
	FingerprintAlgorithm string `yaml:"fingerprint_algorithm"`
}

func (c *Config) applyDefaults() {
	if c.DeletionPolicy == "" {
		c.DeletionPolicy = DeleteSoft
	}
	if c.SoftDeleteFlag == "" {
		c.SoftDeleteFlag = "is_deleted"
	}
	if c.SoftDeleteTimeKey == "" {
		c.SoftDeleteTimeKey = "deleted_at"
	}
	if c.FingerprintKey == "" {
		c.FingerprintKey = "__fp"
	}
	if c.FingerprintAlgorithm == "" {
		c.FingerprintAlgorithm = AlgSHA1
	}
}

func (c *Config) validate() error {
	if c.IdentityKey == "" {
		return fmt.Errorf("syncer: identity_key is required")
	}
	switch c.DeletionPolicy {
	case DeleteSoft, DeleteHard:
	default:
		return fmt.Errorf("syncer: unknown deletion_policy %q", c.DeletionPolicy)
	}
	switch c.FingerprintAlgorithm {
	case AlgSHA1, AlgSHA256:
	default:
		return fmt.Errorf("syncer: unknown fingerprint_algorithm %q", c.FingerprintAlgorithm)
	}
	return nil
}
