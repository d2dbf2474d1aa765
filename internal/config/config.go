package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SafetyCheckCount is the fixed size of the agreement checklist.
const SafetyCheckCount = 20

// Config models worksafe.yml.
type Config struct {
	App struct {
		Name string `yaml:"name"`
	} `yaml:"app"`
	Store struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		RedisURL string `yaml:"redis_url"`
	} `yaml:"store"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Agreement struct {
		Contractors    []string        `yaml:"contractors"`
		SafetyChecks   []string        `yaml:"safety_checks"`
		SignatureRoles []SignatureRole `yaml:"signature_roles"`
	} `yaml:"agreement"`
	Signing struct {
		RequireRole bool `yaml:"require_role"`
	} `yaml:"signing"`
	Catalog struct {
		File            string `yaml:"file"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"catalog"`
	Share struct {
		TTLHours int `yaml:"ttl_hours"`
	} `yaml:"share"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// SignatureRole is one signature slot on the agreement.
type SignatureRole struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// WebhookConfig describes an outbound event sink.
type WebhookConfig struct {
	ID     string   `yaml:"id"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ws init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "", "sqlite":
	case "pgx":
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for driver pgx")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite or pgx, got %q", c.Store.Driver)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	if len(c.Agreement.SafetyChecks) != 0 && len(c.Agreement.SafetyChecks) != SafetyCheckCount {
		return fmt.Errorf("config.agreement.safety_checks must list exactly %d items", SafetyCheckCount)
	}
	seen := map[string]bool{}
	for _, r := range c.Agreement.SignatureRoles {
		if r.ID == "" || strings.TrimSpace(r.Label) == "" {
			return fmt.Errorf("config.agreement.signature_roles entries need id and label")
		}
		if seen[r.ID] {
			return fmt.Errorf("signature role %s is defined twice", r.ID)
		}
		seen[r.ID] = true
	}
	for _, name := range c.Agreement.Contractors {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.agreement.contractors contains an empty name")
		}
	}
	if c.Catalog.CacheTTLSeconds < 0 {
		return fmt.Errorf("config.catalog.cache_ttl_seconds must be >= 0")
	}
	if c.Share.TTLHours < 0 {
		return fmt.Errorf("config.share.ttl_hours must be >= 0")
	}
	for _, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %s has empty url", wh.ID)
		}
	}
	return nil
}

// RoleLabel returns the label of a signature role id.
func (c *Config) RoleLabel(id string) (string, bool) {
	for _, r := range c.Agreement.SignatureRoles {
		if r.ID == id {
			return r.Label, true
		}
	}
	return "", false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "worksafe.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault("worksafe")), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left
// out of the file fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  name: %s

store:
  driver: sqlite

log:
  level: info
  format: console

agreement:
  contractors: [協茂, 正紳, 勝濱, 中宏]
  signature_roles:
    - id: csc_manager
      label: 中鋼公司 承辦股長
    - id: csc_staff
      label: 中鋼公司 承辦人員
    - id: contractor_boss
      label: 承包商 工地負責人
    - id: contractor_safety
      label: 承包商 安衛管理人員
    - id: contractor_leader
      label: 承包商 帶班者
  safety_checks:
    - "1. 每日施工前應先洽中鋼承辦人並向轄區單位申請安全工作許可證，獲核准後始得開始施工。"
    - "2. 進入施工工地應配戴安全帽，並扣好帽帶。穿合格安全皮鞋，嚴禁穿拖鞋。衣服要塞入褲內。"
    - "3. 二公尺以上之高處作業，應繫好安全帶與做好防墜落措施。"
    - "4. 侷限空間內作業應先通風及測定CO與氧氣濃度，工作人員應攜帶可燃性氣體警報器。"
    - "5. 動火作業應配置滅火器及監火員，並作好防止火花飛濺裝置。"
    - "6. 不可活電作業。停電作業時應由中鋼人員斷電後，驗電掛卡與上鎖。"
    - "7. 近電作業先做好防護措施，並經中鋼公司人員確認後，方允施工。"
    - "8. 送電前檢送完工測試報告，由中鋼承辦人員辦理送電申請。"
    - "9. 天車上、天車旁及其軌道，高溫區與工場活線區施工，會同中鋼承辦人員協調現場。"
    - "10. 廠內開關、儀器、閥類、管線等設備不得碰撞，並禁止擅自操作。"
    - "11. 非施工區域，不得擅入。"
    - "12. 施工用臨時電、氣體、水等須先申請核准。"
    - "13. 電焊機使用前須先自行檢查合格，且合格證於有效期限壹個月內。"
    - "14. 工作場所隨時整頓清潔，非吸煙區及工作中禁止吸煙。"
    - "15. 禁止女工及未滿二十歲或已逾五十歲之男工從事高架作業。"
    - "16. 從事起重機、堆高機、焊接及切除人員，必需經訓練合格及取得證書者。"
    - "17. 已充氣或空的氣體鋼瓶應分開存放，並置於陰涼處。"
    - "18. 孔洞應設置安全措施(圍欄或護蓋)及安全警告標語，以防止墬落。"
    - "19. 未經許可勿將他人設置之危險標誌移走。"
    - "20. 從事特殊工作須使用防護具 (請於下方備註填寫)"

signing:
  require_role: false

catalog:
  file: ""
  cache_ttl_seconds: 300

share:
  ttl_hours: 72
`
