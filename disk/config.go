package disk

// Visibility values recognised in disk configuration.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Driver names accepted by Open.
const (
	DriverLocal  = "local"
	DriverMemory = "memory"
	DriverS3     = "s3"
	DriverGCS    = "gcs"
	DriverAzure  = "azure"
)

// Config describes one named disk.
type Config struct {
	Driver     string `yaml:"driver" json:"driver"`
	Visibility string `yaml:"visibility,omitempty" json:"visibility,omitempty"`
	// URL is the public base URL objects are reachable under.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// local
	Root string `yaml:"root,omitempty" json:"root,omitempty"`

	// s3, gcs
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// s3
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"-"` //nolint:gosec // G117: config field

	// gcs
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
	GoogleAccessID  string `yaml:"google_access_id,omitempty" json:"google_access_id,omitempty"`
	PrivateKeyFile  string `yaml:"private_key_file,omitempty" json:"private_key_file,omitempty"`

	// azure
	Account    string `yaml:"account,omitempty" json:"account,omitempty"`
	AccountKey string `yaml:"account_key,omitempty" json:"-"` //nolint:gosec // G117: config field
	Container  string `yaml:"container,omitempty" json:"container,omitempty"`
	ServiceURL string `yaml:"service_url,omitempty" json:"service_url,omitempty"`
}

// Settings is one immutable snapshot of the storage configuration.
type Settings struct {
	Default string            `yaml:"default" json:"default"`
	Disks   map[string]Config `yaml:"disks" json:"disks"`
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	cp := Settings{Default: s.Default, Disks: make(map[string]Config, len(s.Disks))}
	for name, cfg := range s.Disks {
		cp.Disks[name] = cfg
	}
	return cp
}
