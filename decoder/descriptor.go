package decoder

import (
	"fmt"
	"regexp"
	"strings"

	"DriveDecoder/core"
)

// UnknownValue fills vendor/model when the log does not carry them
const UnknownValue = "Unknown"

var (
	// USBSTOR\Disk&Ven_SanDisk&Prod_Cruzer_Blade&Rev_1.00\AA011234567890&0
	// also matches the '#' separated form embedded in WPD/SWD instance IDs
	usbstorPattern = regexp.MustCompile(`(?i)USBSTOR[\\#]([A-Za-z]+)&Ven_([^&\\#]*)&Prod_([^&\\#]*)(?:&Rev_[^\\#]*)?[\\#]([^\\#\s{}]+)`)

	// USB\VID_0781&PID_5567\AA011234567890
	usbVidPidPattern = regexp.MustCompile(`(?i)USB[\\#]VID_([0-9A-F]{4})&PID_([0-9A-F]{4})(?:&MI_[0-9A-F]{2})?[\\#]([^\\#\s{}]+)`)

	// Serial Number: AA011234567890 / serial=AA011234567890
	serialKVPattern = regexp.MustCompile(`(?i)\bserial(?:[ _]?(?:number|no))?\s*[:=]\s*"?([A-Za-z0-9][A-Za-z0-9_.&-]*)`)
	vendorKVPattern = regexp.MustCompile(`(?i)\b(?:vendor|manufacturer)\s*[:=]\s*([^;,|\r\n]+)`)
	modelKVPattern  = regexp.MustCompile(`(?i)\b(?:model|product)\s*[:=]\s*([^;,|\r\n]+)`)

	instanceSuffix = regexp.MustCompile(`&\d+$`)
	serialToken    = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_.&-]{2,}$`)
)

// Structured field names, in priority order
var (
	serialFieldNames   = []string{"SerialNumber", "Serial", "serial_number", "serialNumber"}
	vendorFieldNames   = []string{"Vendor", "Manufacturer", "vendor"}
	modelFieldNames    = []string{"Model", "Product", "model"}
	classFieldNames    = []string{"DeviceClass", "Class", "device_class"}
	instanceFieldNames = []string{"DeviceInstanceId", "InstanceId", "DeviceId", "DeviceInstanceID", "InstanceID"}
)

// ExtractIdentity isolates vendor, model and serial number from a device
// descriptor and the entry's structured fields.
func ExtractIdentity(descriptor string, fields map[string]string) (core.DeviceIdentity, error) {
	raw := core.RawEntry{Descriptor: descriptor, Fields: fields}

	id := core.DeviceIdentity{}
	texts := []string{descriptor}
	for _, name := range instanceFieldNames {
		if v := raw.Field(name); v != "" {
			texts = append(texts, v)
		}
	}

	serial := ""
	if v := raw.Field(serialFieldNames...); v != "" {
		serial = v
	}

	for _, text := range texts {
		if text == "" {
			continue
		}
		if m := usbstorPattern.FindStringSubmatch(text); m != nil {
			if id.Vendor == "" {
				id.Vendor = m[2]
			}
			if id.Model == "" {
				id.Model = m[3]
			}
			if id.DeviceClass == "" {
				id.DeviceClass = storageClass(m[1])
			}
			if serial == "" {
				serial = m[4]
			}
		}
		if m := usbVidPidPattern.FindStringSubmatch(text); m != nil {
			if id.VendorID == "" {
				id.VendorID = strings.ToUpper(m[1])
				id.ProductID = strings.ToUpper(m[2])
			}
			if serial == "" {
				serial = m[3]
			}
		}
		if serial == "" {
			if m := serialKVPattern.FindStringSubmatch(text); m != nil {
				serial = m[1]
			}
		}
		if id.Vendor == "" {
			if m := vendorKVPattern.FindStringSubmatch(text); m != nil {
				id.Vendor = m[1]
			}
		}
		if id.Model == "" {
			if m := modelKVPattern.FindStringSubmatch(text); m != nil {
				id.Model = m[1]
			}
		}
	}

	normalized, generated := normalizeSerial(serial)
	if !serialToken.MatchString(normalized) {
		return core.DeviceIdentity{}, fmt.Errorf("%w: no serial number in %q", ErrUnresolvableIdentity, truncate(descriptor, 120))
	}
	id.SerialNumber = normalized
	id.Generated = generated

	if v := raw.Field(vendorFieldNames...); v != "" {
		id.Vendor = v
	}
	if v := raw.Field(modelFieldNames...); v != "" {
		id.Model = v
	}
	if v := raw.Field(classFieldNames...); v != "" {
		id.DeviceClass = v
	}
	id.Vendor = cleanName(id.Vendor)
	id.Model = cleanName(id.Model)

	return id, nil
}

// normalizeSerial upper-cases the serial and strips the "&0" instance
// suffix Windows appends. A second character of '&' marks an ID Windows
// generated for a device without a serial.
func normalizeSerial(s string) (string, bool) {
	s = strings.ToUpper(strings.Trim(strings.TrimSpace(s), `"`))
	generated := len(s) > 1 && s[1] == '&'
	return instanceSuffix.ReplaceAllString(s, ""), generated
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return UnknownValue
	}
	return s
}

func storageClass(class string) string {
	switch strings.ToLower(class) {
	case "disk":
		return "Mass Storage"
	case "cdrom":
		return "CD-ROM"
	default:
		return class
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
