package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/otaguard/otaguard/firmware/artifact"
	"github.com/otaguard/otaguard/firmware/keystore"
	"github.com/otaguard/otaguard/firmware/publish"
	"github.com/otaguard/otaguard/firmware/sign"
	"github.com/otaguard/otaguard/status"
	"github.com/otaguard/otaguard/version"
)

const (
	// DefaultFirmwarePath is where the firmware build leaves its image
	DefaultFirmwarePath = "build/hello_world.bin"
	// DefaultKeysDir holds the signing key
	DefaultKeysDir = "secure_keys"
	// DefaultKeyFile is the signing key file name inside DefaultKeysDir
	DefaultKeyFile = "secure_boot_signing_key.pem"
	// SignedSuffix is appended to the firmware path to name the artifact
	SignedSuffix = ".signed"
)

// KeyProvider hands out the signing key
type KeyProvider interface {
	LoadOrCreate(ctx context.Context, path string) (*keystore.SigningKey, error)
}

// Config describes a single signing run
type Config struct {
	FirmwarePath    string
	KeyPath         string
	OutputPath      string
	Name            string
	FirmwareVersion string
	AllowDowngrade  bool
}

// Result summarizes a finished run
type Result struct {
	Artifact     *artifact.SignedArtifact
	Manifest     *artifact.Manifest
	OutputPath   string
	OriginalSize int
	SignedSize   int
	Published    []string
}

// Pipeline runs load key, sign, write and publish in order. Nothing is written before the
// signature exists and the artifact is only renamed into place once complete.
type Pipeline struct {
	keys       KeyProvider
	signer     *sign.Signer
	publishers []publish.Publisher
}

// New creates a Pipeline
func New(keys KeyProvider, signer *sign.Signer, publishers ...publish.Publisher) *Pipeline {
	return &Pipeline{
		keys:       keys,
		signer:     signer,
		publishers: publishers,
	}
}

// DefaultOutputPath names the artifact for a firmware image
func DefaultOutputPath(firmwarePath string) string {
	return firmwarePath + SignedSuffix
}

// Run signs the firmware described by cfg
func (p *Pipeline) Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.FirmwarePath == "" {
		return nil, status.NewMissingInputError("", errors.New("firmware path is empty"))
	}
	if cfg.KeyPath == "" {
		return nil, status.NewMissingInputError("", errors.New("key path is empty"))
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = DefaultOutputPath(cfg.FirmwarePath)
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.FirmwarePath)
	}

	payload, err := readFirmware(cfg.FirmwarePath)
	if err != nil {
		return nil, err
	}

	if err := checkVersion(cfg); err != nil {
		return nil, err
	}

	key, err := p.keys.LoadOrCreate(ctx, cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sign %s: %w", cfg.FirmwarePath, err)
	}

	signed, err := p.signer.Sign(payload, key)
	if err != nil {
		return nil, err
	}

	manifest, err := artifact.WriteFile(ctx, cfg.OutputPath, signed, artifact.Info{
		Name:            cfg.Name,
		FirmwareVersion: cfg.FirmwareVersion,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Artifact:     signed,
		Manifest:     manifest,
		OutputPath:   cfg.OutputPath,
		OriginalSize: len(payload),
		SignedSize:   signed.Size(),
	}

	log.WithFields(log.Fields{
		"key_id":        key.ID().String(),
		"original_size": res.OriginalSize,
		"signed_size":   res.SignedSize,
	}).Infof("signed %s to %s", cfg.FirmwarePath, cfg.OutputPath)

	for _, pub := range p.publishers {
		loc, err := pub.Publish(ctx, cfg.OutputPath)
		if err != nil {
			return res, fmt.Errorf("artifact signed but not published: %w", err)
		}
		res.Published = append(res.Published, loc)
	}

	return res, nil
}

func readFirmware(path string) ([]byte, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.NewMissingInputError(path, err)
		}
		return nil, fmt.Errorf("read firmware %s: %w", path, err)
	}
	if len(payload) == 0 {
		return nil, status.Wrap(status.InvalidPayload, path, nil, "invalid firmware payload: file is empty")
	}
	return payload, nil
}

// checkVersion refuses to replace an artifact with one carrying a lower firmware version
func checkVersion(cfg Config) error {
	if cfg.FirmwareVersion == "" {
		return nil
	}
	if _, err := version.ParseFirmware(cfg.FirmwareVersion); err != nil {
		return status.Wrap(status.InvalidPayload, "", err, "invalid firmware version")
	}

	previous, err := artifact.ReadManifest(cfg.OutputPath)
	if err != nil {
		if status.IsType(err, status.MissingInput) {
			return nil
		}
		log.Warnf("ignoring unreadable manifest of previous artifact: %v", err)
		return nil
	}

	downgrade, err := version.IsDowngrade(previous.FirmwareVersion, cfg.FirmwareVersion)
	if err != nil {
		log.Warnf("previous artifact has an unparsable firmware version: %v", err)
		return nil
	}
	if !downgrade {
		return nil
	}
	if cfg.AllowDowngrade {
		log.Warnf("replacing firmware %s with older %s", previous.FirmwareVersion, cfg.FirmwareVersion)
		return nil
	}
	return status.Wrap(status.InvalidPayload, cfg.OutputPath, nil,
		"firmware version %s is lower than published %s", cfg.FirmwareVersion, previous.FirmwareVersion)
}
