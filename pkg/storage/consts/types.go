package consts

const (
	DefaultImagesDir    = "images"
	DefaultLogsDir      = "logs"
	DefaultManifestFile = "session.json"

	ImagePrefix     = "image"
	DefaultImageExt = ".jpeg"
	// ImagePattern is the printf pattern of a frame name, in capture order.
	ImagePattern = ImagePrefix + "%d" + DefaultImageExt

	VideoName = "timelapse"
	LogSuffix = "LOG.txt"

	// SessionIDLayout has microsecond resolution so an autoloop child never
	// reuses the id of the session that launched it.
	SessionIDLayout = "2006-01-02T15:04:05.000000"

	DriveFolder  = "timelapse"
	MaxFrameRate = 30

	DefaultFilePerm = 0644
	DefaultDirPerm  = 0755
)
