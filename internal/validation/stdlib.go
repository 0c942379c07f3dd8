// File: internal/validation/stdlib.go
package validation

// pythonStdlib is the allowlist of top-level standard-library modules
// accepted without a declared dependency. Not exhaustive; unlisted stdlib
// modules surface as false positives, which is acceptable for an advisory
// gate.
var pythonStdlib = map[string]struct{}{
	"abc": {}, "argparse": {}, "array": {}, "asyncio": {}, "base64": {},
	"bisect": {}, "calendar": {}, "codecs": {}, "collections": {},
	"concurrent": {}, "configparser": {}, "contextlib": {}, "copy": {},
	"csv": {}, "ctypes": {}, "dataclasses": {}, "datetime": {},
	"decimal": {}, "difflib": {}, "email": {}, "enum": {}, "errno": {},
	"fnmatch": {}, "fractions": {}, "functools": {}, "getpass": {},
	"glob": {}, "gzip": {}, "hashlib": {}, "heapq": {}, "hmac": {},
	"html": {}, "http": {}, "importlib": {}, "inspect": {}, "io": {},
	"ipaddress": {}, "itertools": {}, "json": {}, "logging": {},
	"math": {}, "mimetypes": {}, "multiprocessing": {}, "numbers": {},
	"operator": {}, "os": {}, "pathlib": {}, "pickle": {}, "platform": {},
	"pprint": {}, "queue": {}, "random": {}, "re": {}, "secrets": {},
	"select": {}, "selectors": {}, "shlex": {}, "shutil": {}, "signal": {},
	"socket": {}, "sqlite3": {}, "ssl": {}, "statistics": {}, "string": {},
	"struct": {}, "subprocess": {}, "sys": {}, "tarfile": {},
	"tempfile": {}, "textwrap": {}, "threading": {}, "time": {},
	"traceback": {}, "types": {}, "typing": {}, "unicodedata": {},
	"unittest": {}, "urllib": {}, "uuid": {}, "warnings": {},
	"weakref": {}, "xml": {}, "zipfile": {}, "zlib": {}, "zoneinfo": {},
	"__future__": {},
}

// nodeBuiltins are the Node.js core modules, accepted with or without the
// node: prefix.
var nodeBuiltins = map[string]struct{}{
	"assert": {}, "async_hooks": {}, "buffer": {}, "child_process": {},
	"cluster": {}, "console": {}, "constants": {}, "crypto": {},
	"dgram": {}, "diagnostics_channel": {}, "dns": {}, "domain": {},
	"events": {}, "fs": {}, "http": {}, "http2": {}, "https": {},
	"inspector": {}, "module": {}, "net": {}, "os": {}, "path": {},
	"perf_hooks": {}, "process": {}, "punycode": {}, "querystring": {},
	"readline": {}, "repl": {}, "stream": {}, "string_decoder": {},
	"test": {}, "timers": {}, "tls": {}, "trace_events": {}, "tty": {},
	"url": {}, "util": {}, "v8": {}, "vm": {}, "worker_threads": {},
	"zlib": {},
}
