package tokenization

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// aliasVocabulary is the closed, curated word list token_alias values are
// drawn from. It is deliberately disjoint from any real given-name space so
// an alias can never be mistaken for (or collide with) a hospital patient's
// actual name.
var aliasVocabulary = []string{
	"Batman", "Ironside", "Falcon", "Sentinel", "Vanguard", "Meridian",
	"Compass", "Beacon", "Harbor", "Summit", "Lantern", "Anchor",
	"Zephyr", "Atlas", "Orion", "Cascade", "Juniper", "Ridgeline",
	"Wren", "Kestrel", "Aspen", "Cobalt", "Marlin", "Osprey",
	"Rampart", "Thistle", "Quartz", "Willow", "Ember", "Tundra",
	"Driftwood", "Halcyon", "Pinnacle", "Solstice", "Flintlock", "Cypress",
	"Mariner", "Glacier", "Canyon", "Starling", "Birchwood", "Obsidian",
	"Redwood", "Skyward", "Tidewater", "Vireo", "Wayfarer", "Yellowstone",
}

// assignAlias deterministically maps patientID to an entry in
// aliasVocabulary, keyed by a deployment-wide salt so the same patient
// always draws the same alias within one salt epoch, but the mapping cannot
// be inverted without the salt.
func assignAlias(salt, patientID string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(patientID))
	sum := mac.Sum(nil)
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(aliasVocabulary))
	return aliasVocabulary[idx]
}
