// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	InvalidReferenceId Id = iota + 1
	ModuleNotFoundId
	RegistryUnreachableId
	MalformedIndexId
	ChecksumMissingId
	ChecksumMismatchId
	UnsafeArchiveId
	PayloadTooLargeId
	AmbiguousLayoutId
	ManifestNotFoundId
	ConfigLoadFailedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // must never be empty, because we need to have docs about all issue types
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	invalidReferenceIssue = &Issue{
		id: InvalidReferenceId,
		mdMsg: `
# Invalid module reference!

The reference you provided doesn't match any form we understand.

## Accepted forms:
- **Registry name**: ` + "`memory-bank`" + ` or ` + "`memory-bank@1.2.0`" + `
- **Repo shorthand**: ` + "`owner/repo`" + `, optionally with a subdirectory
- **Repo URL**: ` + "`https://github.com/owner/repo`" + ` or ` + "`git@github.com:owner/repo.git`" + `

## Things you can try:
- Check for typos in the reference
- List what the registry offers:
~~~
$ cogmod search <term>
~~~

- Pin a version explicitly:
~~~
$ cogmod install memory-bank@1.2.0
~~~`,
	}

	moduleNotFoundIssue = &Issue{
		id: ModuleNotFoundId,
		mdMsg: `
# Module not found!

The module you asked for isn't in the registry index, the remote
repository, or your local installation.

## Things you can try:
- Search the registry for a close match:
~~~
$ cogmod search <term>
~~~

- List what is installed locally:
~~~
$ cogmod list
~~~

- If you requested a specific version, check which versions exist:
~~~
$ cogmod info <name>
~~~`,
	}

	registryUnreachableIssue = &Issue{
		id: RegistryUnreachableId,
		mdMsg: `
# Registry unreachable!

We couldn't fetch the registry index or a module tarball.

## Common causes:
- No network connectivity
- The registry host is down or slow to respond
- A proxy or firewall is blocking the request

## Things you can try:
- Check your network connection and retry
- Point at a different registry in your config:
~~~cue
registry: {
  url: "https://example.org/registry.v2.json"
}
~~~

- Installs from a recently fetched index keep working while the
  cache is fresh; only stale caches force a refetch`,
	}

	malformedIndexIssue = &Issue{
		id: MalformedIndexId,
		mdMsg: `
# Malformed registry index!

The registry returned something that isn't a valid module index.

## Common causes:
- The registry URL points at an HTML page instead of the index JSON
- A proxy injected an error page into the response
- The index is being regenerated and was fetched mid-write

## Things you can try:
- Verify the configured URL serves the index document:
~~~
$ curl -s <registry-url> | head
~~~

- Retry after a minute; publishers regenerate the index atomically,
  so a second fetch usually succeeds`,
	}

	checksumMissingIssue = &Issue{
		id: ChecksumMissingId,
		mdMsg: `
# Distribution checksum missing!

The registry entry offers a tarball but no checksum, so there is no
way to verify what we would download. Such entries are never
installable.

## Things you can try:
- Report the entry to the registry maintainers; every published
  tarball must carry a ` + "`sha256:`" + ` checksum
- Install the module straight from its source repository instead:
~~~
$ cogmod install owner/repo
~~~`,
	}

	checksumMismatchIssue = &Issue{
		id: ChecksumMismatchId,
		mdMsg: `
# Checksum mismatch!

The downloaded tarball doesn't match the checksum the registry
declared for it. Nothing was installed and the download was discarded.

## Common causes:
- The publisher updated the tarball without updating the index
- A proxy or mirror served a stale or truncated file
- The download was corrupted or tampered with in transit

## Things you can try:
- Retry; a transient network fault can truncate a download
- If it keeps failing, report it to the registry maintainers with
  the module name and version: the index and the asset disagree`,
	}

	unsafeArchiveIssue = &Issue{
		id: UnsafeArchiveId,
		mdMsg: `
# Unsafe archive!

The tarball contains an entry we refuse to extract. Nothing was
written outside the extraction directory.

## Entries we refuse:
- Symbolic links and hard links
- Device nodes, FIFOs, and other special files
- Names that would escape the extraction root (` + "`../`" + `, absolute
  paths, drive letters)

## Things you can try:
- If you built the tarball, rebuild it with the asset builder; it
  only emits plain files and directories:
~~~
$ cogmod registry build
~~~

- If it came from a registry, report the module; published tarballs
  must contain regular files and directories only`,
	}

	payloadTooLargeIssue = &Issue{
		id: PayloadTooLargeId,
		mdMsg: `
# Payload too large!

A download or extraction exceeded one of the configured size
ceilings, so we stopped before it could exhaust disk or memory.

## Ceilings that can trip:
- Index or tarball download size
- Archive file count
- Decompressed size of a single file or the whole archive

## Things you can try:
- If the module is legitimately this large, raise the limits in
  your config:
~~~cue
limits: {
  tarball_max_bytes: 536870912
  max_total_bytes:   536870912
}
~~~

- A tiny tarball that decompresses past the ceiling is a
  decompression bomb; don't raise limits to accommodate one`,
	}

	ambiguousLayoutIssue = &Issue{
		id: AmbiguousLayoutId,
		mdMsg: `
# Ambiguous archive layout!

A module tarball must contain exactly one top-level directory; this
one has several roots or loose files at the top level.

## Things you can try:
- If you built the tarball by hand, repack it with everything under
  a single root directory, or use the asset builder:
~~~
$ cogmod registry build
~~~

- If it came from a repository archive, check that the repo keeps
  the module in a single directory`,
	}

	manifestNotFoundIssue = &Issue{
		id: ManifestNotFoundId,
		mdMsg: `
# Module not in the install manifest!

The operation needs a manifest entry for this module, but none
exists. Only modules installed by cogmod are tracked; directories
copied in by hand are invisible to update and remove.

## Things you can try:
- List what the manifest tracks:
~~~
$ cogmod list
~~~

- Reinstall the module so it gets a manifest entry:
~~~
$ cogmod install <name>
~~~

- Check you spelled the installed name correctly; a module renamed
  at install time is tracked under the new name`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the cogmod configuration file.

## Configuration file locations:
- Linux: ~/.config/cogmod/config.cue
- macOS: ~/Library/Application Support/cogmod/config.cue
- Windows: %APPDATA%\cogmod\config.cue

## Things you can try:
- Create a default configuration:
~~~
$ cogmod config init
~~~

- Check the configuration syntax
- Remove the config file to use defaults:
~~~
$ rm ~/.config/cogmod/config.cue
~~~

## Example configuration:
~~~cue
registry: {
  url: "https://cognary.github.io/cognitive/cognitive-registry.v2.json"
  cache_ttl_minutes: 15
}

modules_dir: "~/.cogmod/modules"

ui: {
  color_scheme: "auto"
  verbose: false
}
~~~`,
	}

	issues = map[Id]*Issue{
		invalidReferenceIssue.Id():    invalidReferenceIssue,
		moduleNotFoundIssue.Id():      moduleNotFoundIssue,
		registryUnreachableIssue.Id(): registryUnreachableIssue,
		malformedIndexIssue.Id():      malformedIndexIssue,
		checksumMissingIssue.Id():     checksumMissingIssue,
		checksumMismatchIssue.Id():    checksumMismatchIssue,
		unsafeArchiveIssue.Id():       unsafeArchiveIssue,
		payloadTooLargeIssue.Id():     payloadTooLargeIssue,
		ambiguousLayoutIssue.Id():     ambiguousLayoutIssue,
		manifestNotFoundIssue.Id():    manifestNotFoundIssue,
		configLoadFailedIssue.Id():    configLoadFailedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
