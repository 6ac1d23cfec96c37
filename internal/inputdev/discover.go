package inputdev

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jochenvg/go-udev"
)

// Info describes an input device node found on the system.
type Info struct {
	Devnode  string   `json:"devnode"`
	Name     string   `json:"name"`
	Phys     string   `json:"phys,omitempty"`
	Bus      string   `json:"bus,omitempty"`
	Keyboard bool     `json:"keyboard"`
	Key      bool     `json:"key"`
	Links    []string `json:"links,omitempty"`
}

// List enumerates evdev nodes through udev.
func List() ([]Info, error) {
	u := &udev.Udev{}
	e := u.NewEnumerate()
	e.AddMatchSubsystem("input")
	e.AddMatchIsInitialized()
	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate input devices: %w", err)
	}
	var infos []Info
	for _, dev := range devices {
		devnode := dev.Devnode()
		if !strings.HasPrefix(filepath.Base(devnode), "event") {
			continue
		}
		info := Info{
			Devnode:  devnode,
			Bus:      dev.PropertyValue("ID_BUS"),
			Keyboard: dev.PropertyValue("ID_INPUT_KEYBOARD") == "1",
			Key:      dev.PropertyValue("ID_INPUT_KEY") == "1",
		}
		if links := dev.PropertyValue("DEVLINKS"); links != "" {
			info.Links = strings.Fields(links)
		}
		// The event node itself has no name; it lives on the parent inputN device.
		if parent := dev.Parent(); parent != nil {
			info.Name = strings.Trim(parent.SysattrValue("name"), "\" \n")
			info.Phys = strings.TrimSpace(parent.SysattrValue("phys"))
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Devnode < infos[j].Devnode
	})
	return infos, nil
}
