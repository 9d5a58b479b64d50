package chatlog

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/topicheat/internal/topic"
)

// Identities maps a canonical real identity to the display names and ids it
// shows up under in the chat export.
//
//	[developers]
//	"策划阿明" = ["阿明", "10086"]
//	[support]
//	"客服小美" = ["小美"]
type Identities struct {
	Developers map[string][]string `toml:"developers"`
	Support    map[string][]string `toml:"support"`

	devs    map[string]bool
	support map[string]bool
}

// LoadIdentities reads an identity table from a TOML file.
func LoadIdentities(path string) (*Identities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read identity file %s", path)
	}
	ids, err := parseIdentities(string(data))
	if err != nil {
		return nil, eris.Wrapf(err, "identity file %s", path)
	}
	return ids, nil
}

func parseIdentities(data string) (*Identities, error) {
	var ids Identities
	if _, err := toml.Decode(data, &ids); err != nil {
		return nil, eris.Wrap(err, "parse identities")
	}
	ids.index()
	return &ids, nil
}

func (ids *Identities) index() {
	ids.devs = aliasSet(ids.Developers)
	ids.support = aliasSet(ids.Support)
}

func aliasSet(table map[string][]string) map[string]bool {
	set := make(map[string]bool)
	for canonical, aliases := range table {
		set[foldName(canonical)] = true
		for _, a := range aliases {
			set[foldName(a)] = true
		}
	}
	return set
}

// Role classifies a speaker. Developer wins over SupportStaff, which wins
// over Player.
func (ids *Identities) Role(speakerID, nickname string) topic.Role {
	if ids == nil {
		return topic.Player
	}
	if ids.devs == nil && ids.support == nil {
		ids.index()
	}
	keys := []string{foldName(speakerID), foldName(nickname)}
	for _, k := range keys {
		if k != "" && ids.devs[k] {
			return topic.Developer
		}
	}
	for _, k := range keys {
		if k != "" && ids.support[k] {
			return topic.SupportStaff
		}
	}
	return topic.Player
}

func foldName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
