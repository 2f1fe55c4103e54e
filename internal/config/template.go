package config

// defaultWorkflowYAML seeds new projects with a minimal three-step pipeline
// the operator is expected to edit. The settings block at the top is read
// by Config; the steps are read by the workflow loader.
const defaultWorkflowYAML = `# stagehand workflow definition
version: 1
name: default-pipeline

# Project-relative paths excluded from snapshots (caches, scratch output).
transient: []

steps:
  - id: prepare
    name: Prepare inputs
    script: scripts/prepare.sh
  - id: process
    name: Process data
    script: scripts/process.sh
    allow_rerun: true
    inputs:
      - flag: --batch
        label: Batch name
        kind: text
  - id: publish
    name: Publish results
    script: scripts/publish.sh
`
