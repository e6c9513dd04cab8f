package ultralytics

// Output lines starting with these markers carry a JSON payload back from the
// driver script. Everything else is library chatter.
const (
	resultMarker = "__MODELPORT_RESULT__"
	errorMarker  = "__MODELPORT_ERROR__"
)

const checkScript = `import ultralytics
print(ultralytics.__version__)
`

// exportScript is run as: python -c exportScript <checkpoint> <format> <imgsz> <kwargs-json>
const exportScript = `import json
import sys

RESULT = "` + resultMarker + `"
ERROR = "` + errorMarker + `"

try:
    from ultralytics import YOLO
except ImportError as exc:
    print(ERROR + json.dumps({"kind": "dependency", "message": str(exc)}), flush=True)
    sys.exit(3)

source, fmt, imgsz, kwargs = sys.argv[1], sys.argv[2], int(sys.argv[3]), json.loads(sys.argv[4])

try:
    path = YOLO(source).export(format=fmt, imgsz=imgsz, **kwargs)
except Exception as exc:
    print(ERROR + json.dumps({"kind": "export", "message": str(exc)}), flush=True)
    sys.exit(1)

print(RESULT + json.dumps({"export_path": "" if path is None else str(path)}), flush=True)
`
