package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// NormalizeText applies NFKC normalization and lowercasing before marker
// matching, so stylistic Unicode variants (fullwidth, mathematical bold)
// cannot dodge the tables.
func NormalizeText(text string) string {
	return strings.ToLower(norm.NFKC.String(text))
}

// === EMOTIONAL DEPENDENCY MARKERS ===
// Abstract relational phrasing only; none of these identify explicit content.
var defaultDependencyMarkers = []string{
	// English
	"special", "unique", "understand", "only one", "secret",
	"nobody else", "trust me", "always there", "need you",
	"miss you", "thinking about", "closest friend", "special bond",
	// Portuguese
	"especial", "único", "única", "entende", "entender", "compreende",
	"ninguém mais", "só você", "confie em mim", "sempre aqui",
	"preciso de você", "sinto sua falta", "pensando em você",
	"melhor amigo", "amigo especial", "ninguém liga", "ninguém entende",
	"você é diferente", "te entendo", "te compreendo", "pode me chamar",
	// Spanish
	"entiende", "comprende", "nadie más", "solo tú", "confía en mí",
	"siempre aquí", "te necesito", "te extraño", "pensando en ti",
	"mejor amigo",
}

// === ISOLATION MARKERS ===
var defaultIsolationMarkers = []string{
	// English
	"just us", "alone", "private", "don't tell", "keep between us",
	"our secret", "without them", "by ourselves", "meet up",
	"come over", "your parents", "they don't understand",
	// Portuguese
	"só nós", "sozinho", "sozinha", "sozinhos", "privado", "privada",
	"não contar", "não conte", "não contem", "entre nós", "só entre nós",
	"nosso segredo", "sem eles", "sem elas", "vir aqui", "vem aqui",
	"seus pais", "sua família", "não entendem", "não vão entender",
	"exagerar", "estragar", "arruinar", "ninguém precisa saber",
	// Spanish
	"solo nosotros", "solos", "no digas", "no cuentes",
	"entre nosotros", "nuestro secreto", "sin ellos", "ven aquí",
	"tus padres", "tu familia", "no entienden", "no van a entender",
}

// === SECRECY MARKERS ===
var defaultSecrecyMarkers = []string{
	// English
	"secret", "don't tell", "keep this private", "between us",
	"our little", "confidential", "nobody knows", "hide",
	"delete", "erase", "password", "private chat",
	// Portuguese
	"segredo", "não contar", "não conte", "mantenha privado", "manter privado",
	"entre nós", "nosso", "confidencial", "ninguém sabe", "esconder",
	"deletar", "apagar", "excluir", "senha", "conversa privada",
	"só nosso", "só nossa", "não diga", "fica entre nós",
	// Spanish
	"secreto", "no digas", "no cuentes", "mantener privado", "entre nosotros",
	"nuestro", "nadie sabe", "ocultar",
	"borrar", "eliminar", "contraseña", "chat privado",
}

// === PLATFORM MIGRATION MARKERS ===
var defaultMigrationMarkers = []string{
	// English
	"snapchat", "whatsapp", "telegram", "discord", "instagram",
	"phone number", "text me", "dm me", "add me on", "private message",
	"different app", "other platform", "email me",
	// Portuguese
	"número de telefone", "me manda mensagem", "me chama", "me adiciona",
	"mensagem privada", "outro app", "outro aplicativo", "outra plataforma",
	"me manda email", "passa seu número", "qual seu número",
	// Spanish
	"número de teléfono", "envíame mensaje", "mándame mensaje", "agrégame",
	"mensaje privado", "otra aplicación", "otra plataforma", "envíame email",
	"pásame tu número",
}

// === MEETING ARRANGEMENT MARKERS ===
// Explicit in-person contact arrangement. Presence of any of these in an
// adult message forces the highest-severity stage regardless of thresholds.
var defaultMeetingMarkers = []string{
	// English
	"meet up", "meet me", "come over", "pick you up", "see you in person",
	"where do you live", "your address",
	// Portuguese
	"vir aqui", "vem aqui", "me encontrar", "te encontrar", "te buscar",
	"onde você mora", "seu endereço",
	// Spanish
	"ven aquí", "nos vemos", "te recojo", "dónde vives", "tu dirección",
}

// MarkerConfig carries the overridable marker tables. Any list left empty in
// the YAML file keeps its hardcoded default.
type MarkerConfig struct {
	DependencyMarkers []string `yaml:"dependency_markers"`
	IsolationMarkers  []string `yaml:"isolation_markers"`
	SecrecyMarkers    []string `yaml:"secrecy_markers"`
	MigrationMarkers  []string `yaml:"migration_markers"`
	MeetingMarkers    []string `yaml:"meeting_markers"`
}

var (
	markerConfig   *MarkerConfig
	markerConfigMu sync.RWMutex
)

// LoadMarkerConfig loads marker overrides from markers.yaml in configDir.
// A missing file is not an error: the hardcoded defaults keep the extractor
// working without any configuration on disk.
func LoadMarkerConfig(configDir string) error {
	path := filepath.Join(configDir, "markers.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read marker config file: %w", err)
	}

	var cfg MarkerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse marker config: %w", err)
	}

	markerConfigMu.Lock()
	markerConfig = &cfg
	markerConfigMu.Unlock()
	return nil
}

// ResetMarkerConfig restores the hardcoded defaults. Used by tests.
func ResetMarkerConfig() {
	markerConfigMu.Lock()
	markerConfig = nil
	markerConfigMu.Unlock()
}

// GetDependencyMarkers returns the active emotional dependency marker table.
func GetDependencyMarkers() []string {
	markerConfigMu.RLock()
	defer markerConfigMu.RUnlock()
	if markerConfig != nil && len(markerConfig.DependencyMarkers) > 0 {
		return markerConfig.DependencyMarkers
	}
	return defaultDependencyMarkers
}

// GetIsolationMarkers returns the active isolation marker table.
func GetIsolationMarkers() []string {
	markerConfigMu.RLock()
	defer markerConfigMu.RUnlock()
	if markerConfig != nil && len(markerConfig.IsolationMarkers) > 0 {
		return markerConfig.IsolationMarkers
	}
	return defaultIsolationMarkers
}

// GetSecrecyMarkers returns the active secrecy marker table.
func GetSecrecyMarkers() []string {
	markerConfigMu.RLock()
	defer markerConfigMu.RUnlock()
	if markerConfig != nil && len(markerConfig.SecrecyMarkers) > 0 {
		return markerConfig.SecrecyMarkers
	}
	return defaultSecrecyMarkers
}

// GetMigrationMarkers returns the active platform migration marker table.
func GetMigrationMarkers() []string {
	markerConfigMu.RLock()
	defer markerConfigMu.RUnlock()
	if markerConfig != nil && len(markerConfig.MigrationMarkers) > 0 {
		return markerConfig.MigrationMarkers
	}
	return defaultMigrationMarkers
}

// GetMeetingMarkers returns the active meeting arrangement marker table.
func GetMeetingMarkers() []string {
	markerConfigMu.RLock()
	defer markerConfigMu.RUnlock()
	if markerConfig != nil && len(markerConfig.MeetingMarkers) > 0 {
		return markerConfig.MeetingMarkers
	}
	return defaultMeetingMarkers
}

// containsAnyMarker reports whether normalized text contains at least one
// marker from the table. Matching is substring-based; tables are stored
// lowercase so only the input needs normalizing.
func containsAnyMarker(normalized string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(normalized, m) {
			return true
		}
	}
	return false
}
