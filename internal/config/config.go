package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"field-change-log/internal/models"
)

// Modes of the field change logger
const (
	ModeConsole = "console"
	ModePersist = "persist"
)

// Source types
const (
	SourceBinlog = "binlog"
	SourceNATS   = "nats"
)

// Sink types
const (
	SinkConsole  = "console"
	SinkWebAPI   = "webapi"
	SinkNATS     = "nats"
	SinkMySQL    = "mysql"
	SinkDynamoDB = "dynamodb"
)

// Field types of monitored columns
const (
	FieldScalar    = "scalar"
	FieldLookup    = "lookup"
	FieldOptionSet = "optionset"
)

type Config struct {
	Mode      string          `yaml:"mode"`      // console, persist
	LogEntity string          `yaml:"log_entity"` // record type created for each change
	Source    SourceConfig    `yaml:"source"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Binlog    BinlogConfig    `yaml:"binlog"`
	NATS      NATSConfig      `yaml:"nats"`
	Sink      SinkConfig      `yaml:"sink"`
	Processor ProcessorConfig `yaml:"processor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type SourceConfig struct {
	Type string `yaml:"type"` // binlog, nats
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"`   // mysql, mariadb
	Version  string `yaml:"version"`  // Optional: 5.6, 5.7, 8.0, etc.
	UseGTID  bool   `yaml:"use_gtid"` // Use GTID for replication (MySQL 5.6+)
}

// DSN returns the go-sql-driver DSN for the server, optionally bound to a database
func (c MySQLConfig) DSN(database string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", c.User, c.Password, c.Host, c.Port, database)
}

type BinlogConfig struct {
	PositionFile  string          `yaml:"position_file"`
	StartPosition uint32          `yaml:"start_position"`
	ReadTimeout   time.Duration   `yaml:"read_timeout"`
	Monitor       []MonitorConfig `yaml:"monitor"`
}

// MonitorConfig selects the columns of one table whose changes are logged
type MonitorConfig struct {
	Database string        `yaml:"database"`
	Table    string        `yaml:"table"`
	Entity   string        `yaml:"entity"`    // defaults to the table name
	IDColumn string        `yaml:"id_column"` // defaults to "id"
	Fields   []FieldConfig `yaml:"fields"`
}

type FieldConfig struct {
	Column       string         `yaml:"column"`
	Name         string         `yaml:"name"` // defaults to the column name
	Type         string         `yaml:"type"` // scalar, lookup, optionset
	LookupEntity string         `yaml:"lookup_entity"`
	NameColumn   string         `yaml:"name_column"` // lookup display name column of the same row
	Options      map[int]string `yaml:"options"`     // optionset labels
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`        // inbound change notifications
	NotifySubject string        `yaml:"notify_subject"` // user notifications go to {notify_subject}.{recordId}
	Queue         string        `yaml:"queue"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type SinkConfig struct {
	Type     string         `yaml:"type"`
	WebAPI   WebAPIConfig   `yaml:"webapi"`
	NATS     NATSSinkConfig `yaml:"nats"`
	MySQL    MySQLSink      `yaml:"mysql"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

type WebAPIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	EntitySet  string        `yaml:"entity_set"` // defaults to log_entity + "s"
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
}

type NATSSinkConfig struct {
	SubjectPrefix string `yaml:"subject_prefix"`
}

type MySQLSink struct {
	Database string `yaml:"database"`
	Table    string `yaml:"table"` // defaults to log_entity
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// ProcessorConfig configures the optional record transformer
type ProcessorConfig struct {
	Enabled bool         `yaml:"enabled"`
	Script  string       `yaml:"script"`
	Rules   []RuleConfig `yaml:"rules"`
}

type RuleConfig struct {
	Entity    string            `yaml:"entity"`
	Field     string            `yaml:"field"`
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	Rename    map[string]string `yaml:"rename"`
	AddFields map[string]string `yaml:"add_fields"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeConsole
	}
	if c.LogEntity == "" {
		c.LogEntity = models.DefaultLogEntity
	}
	if c.Source.Type == "" {
		c.Source.Type = SourceNATS
	}
	c.Sink.Type = strings.ToLower(c.Sink.Type)
	if c.Sink.Type == "" {
		c.Sink.Type = SinkConsole
	}
	if c.NATS.NotifySubject == "" && publishable(c.NATS.Subject) {
		c.NATS.NotifySubject = c.NATS.Subject + ".notify"
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.MySQL.Flavor == "" {
		c.MySQL.Flavor = "mysql"
	}
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.Binlog.ReadTimeout == 0 {
		c.Binlog.ReadTimeout = 10 * time.Second
	}
	for i := range c.Binlog.Monitor {
		m := &c.Binlog.Monitor[i]
		if m.Entity == "" {
			m.Entity = m.Table
		}
		if m.IDColumn == "" {
			m.IDColumn = "id"
		}
		for j := range m.Fields {
			f := &m.Fields[j]
			if f.Name == "" {
				f.Name = f.Column
			}
			if f.Type == "" {
				f.Type = FieldScalar
			}
		}
	}
	if c.Sink.WebAPI.APIVersion == "" {
		c.Sink.WebAPI.APIVersion = "v9.2"
	}
	if c.Sink.WebAPI.EntitySet == "" {
		c.Sink.WebAPI.EntitySet = c.LogEntity + "s"
	}
	if c.Sink.WebAPI.Timeout == 0 {
		c.Sink.WebAPI.Timeout = 30 * time.Second
	}
	if c.Sink.NATS.SubjectPrefix == "" {
		c.Sink.NATS.SubjectPrefix = "fieldchange.records"
	}
	if c.Sink.MySQL.Table == "" {
		c.Sink.MySQL.Table = c.LogEntity
	}
}

// Validate checks that the selected source and sink are fully configured
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeConsole, ModePersist:
	default:
		return fmt.Errorf("unknown mode %q (expected console or persist)", c.Mode)
	}

	switch c.Source.Type {
	case SourceNATS:
		if c.NATS.URL == "" || c.NATS.Subject == "" {
			return fmt.Errorf("nats source requires nats.url and nats.subject")
		}
		if !publishable(c.NATS.NotifySubject) {
			return fmt.Errorf("nats source requires a notify subject without wildcards (set nats.notify_subject when nats.subject has wildcards)")
		}
	case SourceBinlog:
		if c.MySQL.Host == "" || c.MySQL.User == "" {
			return fmt.Errorf("binlog source requires mysql.host and mysql.user")
		}
		if c.Binlog.PositionFile == "" {
			return fmt.Errorf("binlog source requires binlog.position_file")
		}
		if len(c.Binlog.Monitor) == 0 {
			return fmt.Errorf("binlog source requires at least one binlog.monitor entry")
		}
		for i, m := range c.Binlog.Monitor {
			if m.Table == "" || len(m.Fields) == 0 {
				return fmt.Errorf("binlog monitor %d: table and fields are required", i)
			}
			for _, f := range m.Fields {
				switch f.Type {
				case FieldScalar, FieldOptionSet:
				case FieldLookup:
					if f.LookupEntity == "" {
						return fmt.Errorf("binlog monitor %d: lookup field %s requires lookup_entity", i, f.Column)
					}
				default:
					return fmt.Errorf("binlog monitor %d: unknown field type %q", i, f.Type)
				}
			}
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}

	switch c.Sink.Type {
	case SinkConsole:
	case SinkWebAPI:
		if c.Sink.WebAPI.BaseURL == "" {
			return fmt.Errorf("webapi sink requires sink.webapi.base_url")
		}
	case SinkNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats sink requires nats.url")
		}
	case SinkMySQL:
		if c.MySQL.Host == "" || c.Sink.MySQL.Database == "" {
			return fmt.Errorf("mysql sink requires mysql.host and sink.mysql.database")
		}
	case SinkDynamoDB:
		if c.Sink.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb sink requires sink.dynamodb.table")
		}
	default:
		return fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}

	return nil
}

// publishable reports whether subject is a literal NATS subject: no
// wildcard or empty tokens and no whitespace
func publishable(subject string) bool {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return false
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" || token == "*" || token == ">" {
			return false
		}
	}
	return true
}
