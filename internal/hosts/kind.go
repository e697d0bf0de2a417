// Package hosts identifies file hosting services and resolves their share
// links into something the downloader can stream.
package hosts

import (
	"fmt"
	"strings"
)

// Kind is a file hosting family
type Kind int

const (
	Direct Kind = iota
	GoogleDrive
	MediaFire
	FourShared
	Dropbox
	SolidFiles
	Mp4Upload
	ScriptTab

	kindCount
)

var kindNames = [kindCount]string{
	Direct:      "direct",
	GoogleDrive: "gdrive",
	MediaFire:   "mediafire",
	FourShared:  "4shared",
	Dropbox:     "dropbox",
	SolidFiles:  "solidfiles",
	Mp4Upload:   "mp4upload",
	ScriptTab:   "script-tab",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Label is the display name used when a page does not name its server
func (k Kind) Label() string {
	switch k {
	case GoogleDrive:
		return "Google Drive"
	case MediaFire:
		return "MediaFire"
	case FourShared:
		return "4shared"
	case Dropbox:
		return "Dropbox"
	case SolidFiles:
		return "SolidFiles"
	case Mp4Upload:
		return "MP4Upload"
	case ScriptTab:
		return "Script"
	}
	return "Direct"
}

// Kinds lists every host family
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

var kindAliases = map[string]Kind{
	"google":       GoogleDrive,
	"googledrive":  GoogleDrive,
	"google-drive": GoogleDrive,
	"drive":        GoogleDrive,
	"4s":           FourShared,
	"fourshared":   FourShared,
	"mf":           MediaFire,
	"mp4":          Mp4Upload,
	"script":       ScriptTab,
}

// ParseKind accepts the canonical names plus a few common aliases
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown host %q", s)
}

// Protocol is the shape of the steps needed to turn a share link into bytes
type Protocol int

const (
	ProtocolDirectStream Protocol = iota
	ProtocolConfirmationToken
	ProtocolMetadataThenLink
	ProtocolCountdown
	ProtocolScriptTab
	ProtocolPlayerSource
)

func (p Protocol) String() string {
	switch p {
	case ProtocolDirectStream:
		return "direct-stream"
	case ProtocolConfirmationToken:
		return "confirmation-token"
	case ProtocolMetadataThenLink:
		return "metadata-then-link"
	case ProtocolCountdown:
		return "countdown"
	case ProtocolScriptTab:
		return "script-tab"
	case ProtocolPlayerSource:
		return "player-source"
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// Protocol returns the resolution protocol of k
func (k Kind) Protocol() Protocol {
	switch k {
	case Direct, Dropbox:
		return ProtocolDirectStream
	case GoogleDrive:
		return ProtocolConfirmationToken
	case MediaFire, SolidFiles:
		return ProtocolMetadataThenLink
	case FourShared:
		return ProtocolCountdown
	case ScriptTab:
		return ProtocolScriptTab
	case Mp4Upload:
		return ProtocolPlayerSource
	}
	panic(fmt.Sprintf("hosts: no protocol for %s", k))
}
