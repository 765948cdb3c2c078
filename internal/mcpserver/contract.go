package mcpserver

// FlashcardFormatContract describes how concept notes and their flashcards
// are laid out, so LLM consumers can write notes the reconciler understands.
const FlashcardFormatContract = `# Flashsync Flashcard Format Contract

Every concept note in a configured concept folder is paired with one
flashcard note. The flashcard header is maintained automatically.

## Pairing

- A concept at ` + "`" + `<concept_folder>/<Name>.md` + "`" + ` is paired with the flashcard at
  ` + "`" + `<flashcard_folder>/F <Name>.md` + "`" + `.
- Reconcile-all visits the direct children of each concept folder. Edits to
  notes in sub-folders are still followed as they happen.
- A concept whose header contains ` + "`" + `no-flashcard: true` + "`" + ` has no flashcard.

## Depth

- A concept's depth is 1 plus the largest depth among the notes it links to.
- A concept without resolvable links to other notes has depth 1.
- Links form a directed graph; a link cycle is an error and nothing is written.

## Flashcard header

` + "```" + `markdown
---
tags:
  - "#other-tag"
  - "#flashcard/physics/2"     # <tag_prefix>/<depth>, maintained
flashcard-for: "[[Orbits]]"    # back-reference to the concept, maintained
---

Question text.
` + "```" + `

## Rules

1. **Do not edit the depth tag or ` + "`" + `flashcard-for` + "`" + ` by hand.** They are rewritten
   whenever the concept changes.
2. **Exactly one tag per family is maintained.** The first tag starting with the
   mapping's prefix is rewritten in place; other tags are kept untouched.
3. **Links** are ` + "`" + `[[Name]]` + "`" + ` wikilinks or relative Markdown links, depending on
   the configured link format. Ambiguous names are written as ` + "`" + `[[folder/Name]]` + "`" + `.
4. **Renaming a concept** moves its flashcard after a short delay. Renaming it
   from ` + "`" + `Untitled.md` + "`" + ` creates the flashcard from the mapping's template.
5. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes.
`
