package compiler

import (
	"fmt"

	"ccir/pkg/source"
)

// startsTypeName reports whether tok can begin a type name: a declaration
// specifier keyword or an identifier currently bound as a typedef.
func (p *Parser) startsTypeName(tok Token) bool {
	switch tok.Kind {
	case KW_VOID, KW_CHAR, KW_SHORT, KW_INT, KW_LONG, KW_FLOAT, KW_DOUBLE,
		KW_SIGNED, KW_UNSIGNED, KW_BOOL, KW_STRUCT, KW_UNION, KW_ENUM,
		KW_CONST, KW_VOLATILE, KW_VA_LIST:
		return true
	case IDENT:
		return p.syms.IsTypeName(tok.Lexeme)
	}
	return false
}

// startsDecl reports whether tok can begin a declaration.
func (p *Parser) startsDecl(tok Token) bool {
	switch tok.Kind {
	case KW_TYPEDEF, KW_EXTERN, KW_STATIC, KW_AUTO, KW_REGISTER, KW_INLINE:
		return true
	}
	return p.startsTypeName(tok)
}

// specState accumulates declaration-specifier keywords until they can be
// combined into a single base type.
type specState struct {
	storage  StorageClass
	isConst  bool
	isVol    bool
	signed   bool
	unsigned bool
	short    bool
	longs    int
	base     TokenKind // KW_VOID, KW_CHAR, KW_INT, KW_FLOAT, KW_DOUBLE, KW_BOOL, KW_VA_LIST, or 0
	typ      *Type     // record, enum, or typedef-resolved type
}

// parseDeclSpecifiers recognizes the declaration-specifier sequence and
// returns the base type it denotes plus the storage class. An identifier is
// accepted as a type specifier exactly when the symbol table binds it as a
// typedef and no other type specifier has been seen.
func (p *Parser) parseDeclSpecifiers() (*Type, StorageClass, error) {
	var st specState
	start := p.peek()

loop:
	for {
		tok := p.peek()
		switch tok.Kind {
		case KW_TYPEDEF, KW_EXTERN, KW_STATIC, KW_AUTO, KW_REGISTER:
			if st.storage != StorageNone {
				return nil, 0, p.errorAt(tok, "multiple storage classes in declaration")
			}
			st.storage = storageOf(tok.Kind)
			p.advance()
		case KW_INLINE:
			p.advance() // accepted and ignored
		case KW_CONST:
			st.isConst = true
			p.advance()
		case KW_VOLATILE:
			st.isVol = true
			p.advance()
		case KW_SIGNED:
			st.signed = true
			p.advance()
		case KW_UNSIGNED:
			st.unsigned = true
			p.advance()
		case KW_SHORT:
			st.short = true
			p.advance()
		case KW_LONG:
			st.longs++
			p.advance()
		case KW_VOID, KW_CHAR, KW_INT, KW_FLOAT, KW_DOUBLE, KW_BOOL, KW_VA_LIST:
			if st.base != 0 || st.typ != nil {
				return nil, 0, p.errorAt(tok, "two or more data types in declaration specifiers")
			}
			st.base = tok.Kind
			p.advance()
		case KW_STRUCT, KW_UNION:
			if st.base != 0 || st.typ != nil {
				return nil, 0, p.errorAt(tok, "two or more data types in declaration specifiers")
			}
			t, err := p.parseRecordSpecifier()
			if err != nil {
				return nil, 0, err
			}
			st.typ = t
		case KW_ENUM:
			if st.base != 0 || st.typ != nil {
				return nil, 0, p.errorAt(tok, "two or more data types in declaration specifiers")
			}
			t, err := p.parseEnumSpecifier()
			if err != nil {
				return nil, 0, err
			}
			st.typ = t
		case IDENT:
			if st.base == 0 && st.typ == nil && !st.signed && !st.unsigned &&
				!st.short && st.longs == 0 && p.syms.IsTypeName(tok.Lexeme) {
				sym, _ := p.syms.Lookup(tok.Lexeme)
				st.typ = cloneType(sym.Type)
				p.advance()
				continue
			}
			break loop
		default:
			break loop
		}
	}

	base, err := st.build()
	if err != nil {
		return nil, 0, p.errorAt(start, "%v", err)
	}
	if st.isConst || st.isVol {
		// Never qualify the shared tag-table object itself.
		if base.Kind == KindRecord || base.Kind == KindEnum {
			base = cloneType(base)
		}
		base.Const = base.Const || st.isConst
		base.Volatile = base.Volatile || st.isVol
	}
	return base, st.storage, nil
}

func storageOf(k TokenKind) StorageClass {
	switch k {
	case KW_TYPEDEF:
		return StorageTypedef
	case KW_EXTERN:
		return StorageExtern
	case KW_STATIC:
		return StorageStatic
	case KW_AUTO:
		return StorageAuto
	case KW_REGISTER:
		return StorageRegister
	}
	return StorageNone
}

// build combines the accumulated specifier keywords into one type.
func (st *specState) build() (*Type, error) {
	if st.typ != nil {
		if st.signed || st.unsigned || st.short || st.longs > 0 {
			return nil, fmt.Errorf("invalid specifier combination")
		}
		return st.typ, nil
	}
	if st.signed && st.unsigned {
		return nil, fmt.Errorf("both signed and unsigned in declaration specifiers")
	}
	if st.longs > 2 {
		return nil, fmt.Errorf("too many long specifiers")
	}

	switch st.base {
	case KW_VOID:
		if st.signed || st.unsigned || st.short || st.longs > 0 {
			return nil, fmt.Errorf("invalid specifier combination with void")
		}
		return VoidType(), nil
	case KW_BOOL:
		return IntType(false, RankBool), nil
	case KW_VA_LIST:
		return &Type{Kind: KindBuiltin, Name: "__builtin_va_list"}, nil
	case KW_FLOAT:
		return FloatingType(RankFloat), nil
	case KW_DOUBLE:
		if st.longs == 1 {
			return FloatingType(RankLongDouble), nil
		}
		return FloatingType(RankDouble), nil
	case KW_CHAR:
		return IntType(!st.unsigned, RankChar), nil
	case KW_INT, 0:
		if st.base == 0 && !st.signed && !st.unsigned && !st.short && st.longs == 0 {
			return nil, fmt.Errorf("expected type specifier")
		}
		rank := RankInt
		switch {
		case st.short:
			rank = RankShort
		case st.longs == 1:
			rank = RankLong
		case st.longs == 2:
			rank = RankLongLong
		}
		return IntType(!st.unsigned, rank), nil
	}
	return nil, fmt.Errorf("expected type specifier")
}

// cloneType returns a shallow copy so qualifiers and storage can be applied
// without mutating a shared (typedef or tag) type object. Record and enum
// clones remember their canonical tag-table identity.
func cloneType(t *Type) *Type {
	c := *t
	c.Storage = StorageNone
	if t.Kind == KindRecord || t.Kind == KindEnum {
		c.canon = t.Canonical()
	}
	return &c
}

// parseRecordSpecifier parses struct/union specifiers: a reference
// (struct S), a forward declaration, or a definition with a field list.
// Anonymous definitions receive a synthetic tag.
func (p *Parser) parseRecordSpecifier() (*Type, error) {
	kw := p.advance() // struct or union
	isUnion := kw.Kind == KW_UNION

	var tag string
	var tagTok Token
	if p.peek().Kind == IDENT {
		tagTok = p.advance()
		tag = tagTok.Lexeme
	}

	if p.peek().Kind != LBRACE {
		if tag == "" {
			return nil, p.errorAt(kw, "expected tag or field list after %q", kw.Lexeme)
		}
		if t, ok := p.syms.LookupTag(tag); ok {
			if t.Kind != KindRecord || t.Union != isUnion {
				return nil, p.errs.Add(source.Semantic, tagTok.Span, "tag %q redeclared as a different kind", tag)
			}
			return t, nil
		}
		// Forward reference: introduce an incomplete type in this scope.
		t := &Type{Kind: KindRecord, Union: isUnion, Tag: tag, DefSpan: tagTok.Span}
		p.syms.DefineTag(tag, t)
		return t, nil
	}

	var t *Type
	if tag == "" {
		tag = fmt.Sprintf("__anon%d", p.anonTags)
		p.anonTags++
		t = &Type{Kind: KindRecord, Union: isUnion, Tag: tag, DefSpan: kw.Span}
		p.syms.DefineTag(tag, t)
	} else if prev, ok := p.syms.LookupTagCurrent(tag); ok {
		if prev.Kind != KindRecord || prev.Union != isUnion || prev.Complete {
			p.errs.AddSecondary(source.Semantic, tagTok.Span, prev.DefSpan, "redefinition of tag %q", tag)
			// Keep parsing the body into a detached type to find more errors.
			t = &Type{Kind: KindRecord, Union: isUnion, Tag: tag, DefSpan: tagTok.Span}
		} else {
			t = prev
		}
	} else {
		t = &Type{Kind: KindRecord, Union: isUnion, Tag: tag, DefSpan: tagTok.Span}
		p.syms.DefineTag(tag, t)
	}

	p.advance() // {
	for p.peek().Kind != RBRACE && p.peek().Kind != EOF {
		base, sc, err := p.parseDeclSpecifiers()
		if err != nil {
			return nil, err
		}
		if sc != StorageNone {
			p.errs.Add(source.Semantic, p.peek().Span, "storage class in struct member declaration")
		}
		for {
			name, nameTok, ft, err := p.parseDeclarator(base, false)
			if err != nil {
				return nil, err
			}
			bits := -1
			if p.peek().Kind == COLON {
				p.advance()
				w, err := p.parseConditional()
				if err != nil {
					return nil, err
				}
				bw, err := p.evalIntConst(w)
				if err != nil {
					return nil, p.errorAt(nameTok, "bitfield width is not constant")
				}
				bits = int(bw)
			}
			if name == "" {
				p.errs.Add(source.Semantic, nameTok.Span, "struct member has no name")
			} else if t.FieldIndex(name) >= 0 {
				p.errs.Add(source.Semantic, nameTok.Span, "duplicate member %q", name)
			} else {
				t.Fields = append(t.Fields, Field{Name: name, Type: ft, Bits: bits})
			}
			if p.peek().Kind != COMMA {
				break
			}
			p.advance()
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	t.Complete = true
	return t, nil
}

// parseEnumSpecifier parses enum specifiers. Enumerators go into the
// ordinary-identifier namespace as integer constants; one without an
// explicit value takes the previous value plus one, starting at zero.
func (p *Parser) parseEnumSpecifier() (*Type, error) {
	kw := p.advance() // enum

	var tag string
	var tagTok Token
	if p.peek().Kind == IDENT {
		tagTok = p.advance()
		tag = tagTok.Lexeme
	}

	if p.peek().Kind != LBRACE {
		if tag == "" {
			return nil, p.errorAt(kw, "expected tag or enumerator list after enum")
		}
		if t, ok := p.syms.LookupTag(tag); ok {
			if t.Kind != KindEnum {
				return nil, p.errs.Add(source.Semantic, tagTok.Span, "tag %q redeclared as a different kind", tag)
			}
			return t, nil
		}
		return nil, p.errs.Add(source.Semantic, tagTok.Span, "use of undefined enum %q", tag)
	}

	if tag == "" {
		tag = fmt.Sprintf("__anon%d", p.anonTags)
		p.anonTags++
	}
	t := &Type{Kind: KindEnum, Tag: tag, Complete: true, DefSpan: kw.Span}
	if prev, ok := p.syms.LookupTagCurrent(tag); ok {
		p.errs.AddSecondary(source.Semantic, tagTok.Span, prev.DefSpan, "redefinition of tag %q", tag)
	} else {
		p.syms.DefineTag(tag, t)
	}

	p.advance() // {
	next := int64(0)
	for p.peek().Kind != RBRACE && p.peek().Kind != EOF {
		nameTok, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		if p.peek().Kind == ASSIGN {
			p.advance()
			expr, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			v, err := p.evalIntConst(expr)
			if err != nil {
				return nil, p.errorAt(nameTok, "enumerator value is not constant")
			}
			next = v
		}
		t.Members = append(t.Members, EnumMember{Name: nameTok.Lexeme, Value: next})
		sym := &Symbol{Kind: SymEnumConst, Name: nameTok.Lexeme, Type: IntType(true, RankInt), EnumVal: next, Def: nameTok.Span}
		if prev, ok := p.syms.Define(sym); !ok {
			p.errs.AddSecondary(source.Semantic, nameTok.Span, prev.Def, "redefinition of %q", nameTok.Lexeme)
		}
		next++
		if p.peek().Kind != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	return t, nil
}

//  Declarators
//
// A declarator is parsed as (pointer prefixes, direct part, suffix chain)
// with the direct part possibly a nested declarator. The type is built
// inside-out: at each nesting level the suffixes bind before the pointer
// prefixes, and the nested level wraps around the result.

type declMod struct {
	// pointer
	isPtr    bool
	isConst  bool
	isVol    bool
	restrict bool

	// array (when !isPtr && !isFunc)
	arrLen   int64
	arrKnown bool

	// function
	isFunc   bool
	params   []Param
	variadic bool
}

type declarator struct {
	name     string
	nameTok  Token
	ptrs     []declMod
	suffixes []declMod
	nested   *declarator
}

// parseDeclarator parses one declarator against the given base type and
// returns the declared name (empty for abstract declarators) and the full
// type.
func (p *Parser) parseDeclarator(base *Type, abstract bool) (string, Token, *Type, error) {
	d, err := p.parseDeclaratorRec(abstract)
	if err != nil {
		return "", Token{}, nil, err
	}
	t, err := p.buildDeclaratorType(d, base)
	if err != nil {
		return "", Token{}, nil, err
	}
	name, tok := declaredName(d)
	return name, tok, t, nil
}

func declaredName(d *declarator) (string, Token) {
	for d != nil {
		if d.name != "" {
			return d.name, d.nameTok
		}
		d = d.nested
	}
	return "", Token{}
}

func (p *Parser) parseDeclaratorRec(abstract bool) (*declarator, error) {
	d := &declarator{}

	for p.peek().Kind == STAR {
		p.advance()
		mod := declMod{isPtr: true}
		for {
			switch p.peek().Kind {
			case KW_CONST:
				mod.isConst = true
				p.advance()
				continue
			case KW_VOLATILE:
				mod.isVol = true
				p.advance()
				continue
			case KW_RESTRICT:
				mod.restrict = true
				p.advance()
				continue
			}
			break
		}
		d.ptrs = append(d.ptrs, mod)
	}

	switch p.peek().Kind {
	case IDENT:
		tok := p.advance()
		d.name = tok.Lexeme
		d.nameTok = tok
	case LPAREN:
		// "(" opens a nested declarator unless what follows can only be a
		// parameter list (a type name or an empty list).
		next := p.peekAt(1)
		if next.Kind != RPAREN && !p.startsTypeName(next) && next.Kind != ELLIPSIS {
			p.advance()
			nested, err := p.parseDeclaratorRec(abstract)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			d.nested = nested
		}
	}

	for {
		switch p.peek().Kind {
		case LBRACKET:
			p.advance()
			mod := declMod{}
			if p.peek().Kind != RBRACKET {
				expr, err := p.parseConditional()
				if err != nil {
					return nil, err
				}
				n, err := p.evalIntConst(expr)
				if err != nil {
					return nil, p.errorAt(p.peek(), "array size is not a constant expression")
				}
				if n < 0 {
					return nil, p.errorAt(p.peek(), "array size is negative")
				}
				mod.arrLen = n
				mod.arrKnown = true
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			d.suffixes = append(d.suffixes, mod)
		case LPAREN:
			p.advance()
			params, variadic, err := p.parseParamList()
			if err != nil {
				return nil, err
			}
			d.suffixes = append(d.suffixes, declMod{isFunc: true, params: params, variadic: variadic})
		default:
			return d, nil
		}
	}
}

// buildDeclaratorType folds the modifier chain over base: pointers apply
// first, then suffixes in reverse source order (a suffix binds tighter than
// a prefix of the same level), then the nested declarator wraps the result.
func (p *Parser) buildDeclaratorType(d *declarator, base *Type) (*Type, error) {
	t := base
	for _, mod := range d.ptrs {
		pt := PointerTo(t)
		pt.Const = mod.isConst
		pt.Volatile = mod.isVol
		pt.Restrict = mod.restrict
		t = pt
	}
	for i := len(d.suffixes) - 1; i >= 0; i-- {
		mod := d.suffixes[i]
		if mod.isFunc {
			if t.IsArray() {
				return nil, fmt.Errorf("function returning array")
			}
			t = FuncOf(t, mod.params, mod.variadic)
		} else {
			if t.IsFunc() {
				return nil, fmt.Errorf("array of functions")
			}
			if mod.arrKnown {
				t = ArrayOf(t, mod.arrLen)
			} else {
				t = UnsizedArrayOf(t)
			}
		}
	}
	if d.nested != nil {
		return p.buildDeclaratorType(d.nested, t)
	}
	return t, nil
}

// parseParamList parses the parenthesized parameter declarations after the
// opening paren has been consumed. "(void)" denotes zero parameters; a
// trailing "..." marks the list variadic and requires at least one named
// parameter before it. Array and function parameters adjust to pointers.
func (p *Parser) parseParamList() ([]Param, bool, error) {
	if p.peek().Kind == RPAREN {
		p.advance()
		return nil, false, nil
	}
	if p.peek().Kind == KW_VOID && p.peekAt(1).Kind == RPAREN {
		p.advance()
		p.advance()
		return nil, false, nil
	}

	var params []Param
	variadic := false
	for {
		if p.peek().Kind == ELLIPSIS {
			tok := p.advance()
			if len(params) == 0 {
				return nil, false, p.errorAt(tok, "a variadic function requires at least one named parameter")
			}
			variadic = true
			break
		}
		base, sc, err := p.parseDeclSpecifiers()
		if err != nil {
			return nil, false, err
		}
		if sc != StorageNone && sc != StorageRegister {
			p.errs.Add(source.Semantic, p.peek().Span, "invalid storage class for parameter")
		}
		name, _, pt, err := p.parseDeclarator(base, true)
		if err != nil {
			return nil, false, err
		}
		switch {
		case pt.IsArray():
			// T p[] adjusts to T *p.
			pt = PointerTo(pt.Elem)
		case pt.IsFunc():
			pt = PointerTo(pt)
		}
		params = append(params, Param{Name: name, Type: pt})
		if p.peek().Kind != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, false, err
	}
	return params, variadic, nil
}

// parseTypeName parses specifier-qualifier-list plus an abstract
// declarator, as used in casts, sizeof, and compound literals.
func (p *Parser) parseTypeName() (*Type, error) {
	base, sc, err := p.parseDeclSpecifiers()
	if err != nil {
		return nil, err
	}
	if sc != StorageNone {
		p.errs.Add(source.Semantic, p.peek().Span, "storage class in type name")
	}
	name, nameTok, t, err := p.parseDeclarator(base, true)
	if err != nil {
		return nil, err
	}
	if name != "" {
		p.errs.Add(source.Syntax, nameTok.Span, "unexpected identifier %q in type name", name)
	}
	return t, nil
}

//  Initializers

// parseInitializer parses an initializer: an assignment expression or a
// brace-enclosed list.
func (p *Parser) parseInitializer() (Expr, error) {
	if p.peek().Kind == LBRACE {
		list, err := p.parseInitList()
		if err != nil {
			return nil, err
		}
		return list, nil
	}
	return p.parseAssign()
}

// parseInitList parses { item, item, ... } with optional designators
// ([k] and .name, possibly chained) in front of each item.
func (p *Parser) parseInitList() (*InitList, error) {
	ltok, err := p.expect(LBRACE)
	if err != nil {
		return nil, err
	}
	list := &InitList{Lspan: ltok.Span}
	for p.peek().Kind != RBRACE && p.peek().Kind != EOF {
		var item InitItem
		for p.peek().Kind == LBRACKET || p.peek().Kind == DOT {
			if p.peek().Kind == LBRACKET {
				p.advance()
				idx, err := p.parseConditional()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(RBRACKET); err != nil {
					return nil, err
				}
				item.Designators = append(item.Designators, Designator{Index: idx})
			} else {
				p.advance()
				nameTok, err := p.expect(IDENT)
				if err != nil {
					return nil, err
				}
				item.Designators = append(item.Designators, Designator{Field: nameTok.Lexeme})
			}
		}
		if len(item.Designators) > 0 {
			if _, err := p.expect(ASSIGN); err != nil {
				return nil, err
			}
		}
		val, err := p.parseInitializer()
		if err != nil {
			return nil, err
		}
		item.Value = val
		list.Items = append(list.Items, item)
		if p.peek().Kind != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	return list, nil
}

//  Declarations and external definitions

// parseDeclaration parses one declaration (possibly declaring several
// names) in block or file scope and records its bindings.
func (p *Parser) parseDeclaration() (Stmt, error) {
	startTok := p.peek()
	base, sc, err := p.parseDeclSpecifiers()
	if err != nil {
		return nil, err
	}

	// A bare "struct S { ... };" or "enum E { ... };" declares only the tag.
	if p.peek().Kind == SEMICOLON {
		semi := p.advance()
		decl := &Declaration{Typ: base, Dspan: span2(startTok.Span, semi.Span)}
		return &DeclStmt{Decls: []*Declaration{decl}}, nil
	}

	ds := &DeclStmt{}
	for {
		decl, err := p.parseInitDeclarator(base, sc, startTok)
		if err != nil {
			return nil, err
		}
		ds.Decls = append(ds.Decls, decl)
		if p.peek().Kind != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return ds, nil
}

func (p *Parser) parseInitDeclarator(base *Type, sc StorageClass, startTok Token) (*Declaration, error) {
	name, nameTok, t, err := p.parseDeclarator(base, false)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, p.errorAt(p.peek(), "expected declarator name")
	}
	if t == base {
		t = cloneType(base)
	}
	t.Storage = sc

	var init Expr
	if p.peek().Kind == ASSIGN {
		p.advance()
		init, err = p.parseInitializer()
		if err != nil {
			return nil, err
		}
		// int a[] = {1, 2, 3}: the missing dimension comes from the list.
		if t.IsArray() && !t.LenKnown {
			if list, ok := init.(*InitList); ok {
				t = ArrayOf(t.Elem, int64(len(list.Items)))
				t.Storage = sc
			} else if str, ok := init.(*StrLit); ok {
				t = ArrayOf(t.Elem, int64(len(str.Value))+1)
				t.Storage = sc
			}
		}
	}

	decl := &Declaration{Typ: t, Name: name, NameTok: nameTok, Init: init, Dspan: span2(startTok.Span, nameTok.Span)}
	p.declareSymbol(decl)
	return decl, nil
}

// declareSymbol inserts a declaration's binding into the current scope. A
// typedef makes future uses of the name parse as a type specifier until the
// scope ends or an inner scope shadows it.
func (p *Parser) declareSymbol(d *Declaration) {
	kind := SymVar
	switch {
	case d.Typ.Storage == StorageTypedef:
		kind = SymTypedef
	case d.Typ.IsFunc():
		kind = SymFunc
	}
	sym := &Symbol{Kind: kind, Name: d.Name, Type: d.Typ, Def: d.NameTok.Span}
	if prev, ok := p.syms.Define(sym); !ok {
		if prev.Kind != kind {
			p.errs.AddSecondary(source.Semantic, d.NameTok.Span, prev.Def,
				"%q redeclared as a different kind of symbol (was %s)", d.Name, prev.Kind)
			return
		}
		switch kind {
		case SymFunc, SymTypedef:
			// Repeated compatible declarations are ordinary C.
			if !TypesEqual(prev.Type, d.Typ) {
				p.errs.AddSecondary(source.Semantic, d.NameTok.Span, prev.Def,
					"conflicting declaration of %q", d.Name)
			}
		default:
			if p.syms.Depth() == 1 && d.Init == nil && TypesEqual(prev.Type, d.Typ) {
				return // tentative file-scope redeclaration
			}
			p.errs.AddSecondary(source.Semantic, d.NameTok.Span, prev.Def,
				"redefinition of %q", d.Name)
		}
	}
}

// parseExternalDecl parses one top-level item: a function definition or a
// declaration.
func (p *Parser) parseExternalDecl() (ExtDecl, error) {
	startTok := p.peek()
	base, sc, err := p.parseDeclSpecifiers()
	if err != nil {
		return nil, err
	}

	if p.peek().Kind == SEMICOLON {
		semi := p.advance()
		return &Declaration{Typ: base, Dspan: span2(startTok.Span, semi.Span)}, nil
	}

	name, nameTok, t, err := p.parseDeclarator(base, false)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, p.errorAt(p.peek(), "expected declarator name")
	}
	if t == base {
		t = cloneType(base)
	}
	t.Storage = sc

	if t.IsFunc() && p.peek().Kind == LBRACE {
		return p.parseFunctionBody(t, name, nameTok)
	}

	// Not a definition: finish as an init-declarator list beginning with
	// the declarator already parsed.
	ds := &DeclStmt{}
	var init Expr
	if p.peek().Kind == ASSIGN {
		p.advance()
		init, err = p.parseInitializer()
		if err != nil {
			return nil, err
		}
		if t.IsArray() && !t.LenKnown {
			if list, ok := init.(*InitList); ok {
				t = ArrayOf(t.Elem, int64(len(list.Items)))
				t.Storage = sc
			} else if str, ok := init.(*StrLit); ok {
				t = ArrayOf(t.Elem, int64(len(str.Value))+1)
				t.Storage = sc
			}
		}
	}
	first := &Declaration{Typ: t, Name: name, NameTok: nameTok, Init: init, Dspan: span2(startTok.Span, nameTok.Span)}
	p.declareSymbol(first)
	ds.Decls = append(ds.Decls, first)

	for p.peek().Kind == COMMA {
		p.advance()
		decl, err := p.parseInitDeclarator(base, sc, startTok)
		if err != nil {
			return nil, err
		}
		ds.Decls = append(ds.Decls, decl)
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	if len(ds.Decls) == 1 {
		return ds.Decls[0], nil
	}
	return declGroup(ds), nil
}

// declGroup adapts a multi-name declaration statement to an ExtDecl.
type DeclGroup struct {
	Decls []*Declaration
}

func declGroup(ds *DeclStmt) *DeclGroup { return &DeclGroup{Decls: ds.Decls} }

func (*DeclGroup) extDeclNode() {}
func (g *DeclGroup) Span() source.Span {
	if len(g.Decls) > 0 {
		return g.Decls[0].Span()
	}
	return source.Span{}
}
func (g *DeclGroup) String() string {
	s := ""
	for i, d := range g.Decls {
		if i > 0 {
			s += " "
		}
		s += d.String()
	}
	return s
}

// parseFunctionBody parses a function definition after its declarator. The
// name goes into file scope before the body so the function can recurse;
// parameters live in the body's scope.
func (p *Parser) parseFunctionBody(t *Type, name string, nameTok Token) (ExtDecl, error) {
	sym := &Symbol{Kind: SymFunc, Name: name, Type: t, Def: nameTok.Span}
	if prev, ok := p.syms.Define(sym); !ok {
		if prev.Kind != SymFunc || !TypesEqual(prev.Type, t) {
			p.errs.AddSecondary(source.Semantic, nameTok.Span, prev.Def, "conflicting definition of %q", name)
		}
	}

	p.syms.PushScope()
	for _, param := range t.Params {
		if param.Name == "" {
			p.errs.Add(source.Semantic, nameTok.Span, "unnamed parameter in definition of %q", name)
			continue
		}
		psym := &Symbol{Kind: SymVar, Name: param.Name, Type: param.Type, Def: nameTok.Span}
		if prev, ok := p.syms.Define(psym); !ok {
			p.errs.AddSecondary(source.Semantic, nameTok.Span, prev.Def, "duplicate parameter %q", param.Name)
		}
	}
	body, err := p.parseCompoundStmt(false)
	p.syms.PopScope()
	if err != nil {
		return nil, err
	}
	return &FuncDef{Typ: t, Name: name, NameTok: nameTok, Body: body.(*CompoundStmt)}, nil
}

// ParseTranslationUnit parses the whole token stream. A failed top-level
// item records its error and resynchronizes at the next declaration
// boundary; later items still parse.
func (p *Parser) ParseTranslationUnit() *TranslationUnit {
	tu := &TranslationUnit{}
	for p.peek().Kind != EOF {
		decl, err := p.parseExternalDecl()
		if err != nil {
			p.resyncTopLevel()
			continue
		}
		tu.Decls = append(tu.Decls, decl)
	}
	return tu
}

// resyncTopLevel skips to the next plausible external-declaration start.
func (p *Parser) resyncTopLevel() {
	depth := 0
	for {
		tok := p.peek()
		switch tok.Kind {
		case EOF:
			return
		case LBRACE:
			depth++
		case RBRACE:
			if depth > 0 {
				depth--
			}
			p.advance()
			if depth == 0 {
				return
			}
			continue
		case SEMICOLON:
			p.advance()
			if depth == 0 {
				return
			}
			continue
		}
		p.advance()
	}
}

//  Parse-time constant evaluation (array sizes, enum values, bitfields)

// evalIntConst evaluates an integer constant expression at parse time.
func (p *Parser) evalIntConst(e Expr) (int64, error) {
	switch n := e.(type) {
	case *IntLit:
		return int64(n.Value), nil
	case *CharLit:
		return n.Value, nil
	case *Ident:
		if sym, ok := p.syms.Lookup(n.Name); ok && sym.Kind == SymEnumConst {
			return sym.EnumVal, nil
		}
		return 0, fmt.Errorf("%q is not a constant", n.Name)
	case *Unary:
		v, err := p.evalIntConst(n.Operand)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case PLUS:
			return v, nil
		case MINUS:
			return -v, nil
		case TILDE:
			return ^v, nil
		case NOT:
			if v == 0 {
				return 1, nil
			}
			return 0, nil
		}
		return 0, fmt.Errorf("operator %s is not constant", n.Op)
	case *Binary:
		return p.evalIntConstBinary(n)
	case *Cond:
		c, err := p.evalIntConst(n.CondExpr)
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return p.evalIntConst(n.Then)
		}
		return p.evalIntConst(n.Else)
	case *CastExpr:
		return p.evalIntConst(n.Operand)
	case *SizeofExpr:
		if n.Of == nil {
			return 0, fmt.Errorf("sizeof expression is not constant here")
		}
		sz, err := p.target.SizeOf(n.Of)
		if err != nil {
			return 0, err
		}
		return sz, nil
	}
	return 0, fmt.Errorf("expression is not constant")
}

func (p *Parser) evalIntConstBinary(n *Binary) (int64, error) {
	l, err := p.evalIntConst(n.Left)
	if err != nil {
		return 0, err
	}
	if n.Op.Class == BinLogical {
		switch n.Op.Kind {
		case AND_LOGICAL:
			if l == 0 {
				return 0, nil
			}
		case OR_LOGICAL:
			if l != 0 {
				return 1, nil
			}
		}
	}
	r, err := p.evalIntConst(n.Right)
	if err != nil {
		return 0, err
	}
	b2i := func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	}
	switch n.Op.Kind {
	case PLUS:
		return l + r, nil
	case MINUS:
		return l - r, nil
	case STAR:
		return l * r, nil
	case SLASH:
		if r == 0 {
			return 0, fmt.Errorf("division by zero in constant expression")
		}
		return l / r, nil
	case PERCENT:
		if r == 0 {
			return 0, fmt.Errorf("modulo by zero in constant expression")
		}
		return l % r, nil
	case AMP:
		return l & r, nil
	case PIPE:
		return l | r, nil
	case CARET:
		return l ^ r, nil
	case SHL_OP:
		return l << uint64(r), nil
	case SHR_OP:
		return l >> uint64(r), nil
	case EQUALS:
		return b2i(l == r), nil
	case NOT_EQ:
		return b2i(l != r), nil
	case LESS:
		return b2i(l < r), nil
	case LESS_EQ:
		return b2i(l <= r), nil
	case GREATER:
		return b2i(l > r), nil
	case GREATER_EQ:
		return b2i(l >= r), nil
	case AND_LOGICAL:
		return b2i(r != 0), nil
	case OR_LOGICAL:
		return b2i(r != 0), nil
	}
	return 0, fmt.Errorf("operator %s is not constant", n.Op.Kind)
}
