package mcpserver

// BoardGuide explains the board model to LLM consumers so they choose lanes
// and respect visibility.
const BoardGuide = `# Retroboard Guide

A board is a retrospective. It has a short join code, a name and ordered
lanes (new boards start with Good, Bad and Improve). Participants add cards
to lanes.

## Visibility

- Every card is hidden from everyone but its author until the board admin
  reveals cards.
- Hidden cards appear in read_board with "hidden": true and no text or author.
- Only the board creator (the admin) can reveal cards, manage lanes or delete
  the board. Those operations are not available through this server.

## Tools

- list_boards: boards you created or added cards to, newest first.
- read_board: the board with the given join code, as you may see it.
- create_board: creates a board you administer and returns its join code.
- add_card: adds a card to a lane. The lane may be given by id or by name
  (case-insensitive). Text is trimmed and must not be empty.
`
