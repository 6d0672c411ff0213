package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/roffe/ttcan"
	"github.com/sqweek/dialog"
	"go.bug.st/serial/enumerator"
)

// pickFile returns path when set, otherwise asks with a native file dialog.
func pickFile(path, title, desc string, exts ...string) (string, error) {
	if path != "" {
		return path, nil
	}
	filename, err := dialog.File().Title(title).Filter(desc, exts...).Load()
	if err != nil {
		if errors.Is(err, dialog.ErrCancelled) {
			return "", fmt.Errorf("%s: no file selected", title)
		}
		return "", err
	}
	return filename, nil
}

func pickSaveFile(title, desc string, exts ...string) (string, error) {
	filename, err := dialog.File().Title(title).Filter(desc, exts...).Save()
	if err != nil {
		if errors.Is(err, dialog.ErrCancelled) {
			return "", fmt.Errorf("%s: no file selected", title)
		}
		return "", err
	}
	return filename, nil
}

// pickPort lets the operator choose a serial port for adapters that need one.
func pickPort(adapter, port string) (string, error) {
	if port != "" && port != "*" {
		return port, nil
	}
	needsPort := false
	for _, a := range ttcan.ListAdapters() {
		if strings.EqualFold(a.Name, adapter) {
			needsPort = a.RequiresSerialPort
		}
	}
	if !needsPort {
		return port, nil
	}
	ports, err := serialPorts()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	labels := make([]string, len(ports))
	for i, p := range ports {
		labels[i] = portLabel(p)
	}
	prompt := promptui.Select{
		Label: "Select " + adapter + " port",
		Items: labels,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed %v", err)
	}
	return ports[idx].Name, nil
}

func serialPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// portLabel adds the USB ids so the operator can tell adapters apart.
func portLabel(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return p.Name
	}
	label := fmt.Sprintf("%s (USB %s:%s", p.Name, p.VID, p.PID)
	if p.Product != "" {
		label += " " + p.Product
	}
	if p.SerialNumber != "" {
		label += ", serial " + p.SerialNumber
	}
	return label + ")"
}
