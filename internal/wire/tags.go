package wire

import "fmt"

// Tag identifies the command carried by a frame.
type Tag uint32

// TagError marks a reply to a request that could not be classified.
const TagError Tag = 0xFFFFFFFF

const (
	TagFactoryReset Tag = iota + 1
	TagCheckUpdates
	TagListApps
	TagInstallApp
	TagUninstallApp
	TagGetStartupForegroundApp
	TagListStartupBackgroundApps
	TagAddStartupApp
	TagRemoveStartupApp
	TagStartApp
	TagStopApp
	TagTransferFile
	TagImmediateReboot
	TagGetRebootInfo
	TagSetRebootInfo
	TagGetTimeInfo
	TagSetTimeInfo
	TagGetCertificateConfiguration
	TagSetCertificateConfiguration
	TagGetCertificateDetails
	TagGetDeviceStatus
	TagTpmGetServiceURL
	TagTpmGetSASToken
	TagListInstalledUpdates
	TagInstallUpdate
)

// CurrentVersion is the payload version every command speaks today.
const CurrentVersion uint32 = 1

var tagNames = map[Tag]string{
	TagError:                       "Error",
	TagFactoryReset:                "FactoryReset",
	TagCheckUpdates:                "CheckUpdates",
	TagListApps:                    "ListApps",
	TagInstallApp:                  "InstallApp",
	TagUninstallApp:                "UninstallApp",
	TagGetStartupForegroundApp:     "GetStartupForegroundApp",
	TagListStartupBackgroundApps:   "ListStartupBackgroundApps",
	TagAddStartupApp:               "AddStartupApp",
	TagRemoveStartupApp:            "RemoveStartupApp",
	TagStartApp:                    "StartApp",
	TagStopApp:                     "StopApp",
	TagTransferFile:                "TransferFile",
	TagImmediateReboot:             "ImmediateReboot",
	TagGetRebootInfo:               "GetRebootInfo",
	TagSetRebootInfo:               "SetRebootInfo",
	TagGetTimeInfo:                 "GetTimeInfo",
	TagSetTimeInfo:                 "SetTimeInfo",
	TagGetCertificateConfiguration: "GetCertificateConfiguration",
	TagSetCertificateConfiguration: "SetCertificateConfiguration",
	TagGetCertificateDetails:       "GetCertificateDetails",
	TagGetDeviceStatus:             "GetDeviceStatus",
	TagTpmGetServiceURL:            "TpmGetServiceURL",
	TagTpmGetSASToken:              "TpmGetSASToken",
	TagListInstalledUpdates:        "ListInstalledUpdates",
	TagInstallUpdate:               "InstallUpdate",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint32(t))
}

// ParseTag resolves a tag by name, case-sensitively, or by decimal value.
func ParseTag(value string) (Tag, bool) {
	for tag, name := range tagNames {
		if name == value {
			return tag, true
		}
	}
	var n uint32
	if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
		if _, ok := tagNames[Tag(n)]; ok {
			return Tag(n), true
		}
	}
	return 0, false
}

// Tags returns every known command tag in numeric order, excluding TagError.
func Tags() []Tag {
	out := make([]Tag, 0, len(tagNames))
	for t := TagFactoryReset; t <= TagInstallUpdate; t++ {
		out = append(out, t)
	}
	return out
}
